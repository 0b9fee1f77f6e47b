package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintAccounts(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []accountRow{
		newAccountRow(&models.Account{ID: "a1", Email: "a@example.com", IsActive: true, IsDefault: true, ExpiresAt: expires}, 3),
		newAccountRow(&models.Account{ID: "b2", Email: "b@example.com", DeactivatedReason: "invalid_grant"}, 0),
	}

	var buf bytes.Buffer
	require.NoError(t, printAccounts(&buf, rows))
	out := buf.String()
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "invalid_grant")
	assert.Nil(t, rows[1].ExpiresAt)
	assert.NotNil(t, rows[0].ExpiresAt)
}

func TestPrintAccountsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printAccounts(&buf, nil))
	assert.Contains(t, buf.String(), "No accounts linked")
}

func TestVersionCommandSkipsConfig(t *testing.T) {
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "filedesk dev")
}
