package models

import (
	"reflect"
	"testing"
)

func TestAccountScopes(t *testing.T) {
	var acc Account
	acc.SetScopes([]string{"drive.file", " email ", "drive.file", ""})

	want := []string{"drive.file", "email"}
	if got := acc.ScopeList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ScopeList() = %v, want %v", got, want)
	}
	if acc.Scopes != `["drive.file","email"]` {
		t.Fatalf("unexpected stored scopes %q", acc.Scopes)
	}
}

func TestAccountScopesMalformed(t *testing.T) {
	acc := Account{Scopes: "[not json"}
	if got := acc.ScopeList(); got != nil {
		t.Fatalf("expected nil scopes for malformed column, got %v", got)
	}
}

func TestHasCredential(t *testing.T) {
	if (&Account{}).HasCredential() {
		t.Fatal("empty account should not report a credential")
	}
	if !(&Account{RefreshToken: "cipher"}).HasCredential() {
		t.Fatal("account with refresh token should report a credential")
	}
}
