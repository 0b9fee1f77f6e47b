package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/spf13/cobra"
)

type accountRow struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Active    bool       `json:"active"`
	Default   bool       `json:"default"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Files     int64      `json:"files"`
	Reason    string     `json:"deactivated_reason,omitempty"`
}

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List linked storage accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(resolvedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			list, err := a.accounts.List(ctx)
			if err != nil {
				return err
			}
			rows := make([]accountRow, 0, len(list))
			for i := range list {
				count, err := a.files.CountByAccount(ctx, list[i].ID)
				if err != nil {
					return err
				}
				rows = append(rows, newAccountRow(&list[i], count))
			}

			if flagJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rows)
			}
			return printAccounts(cmd.OutOrStdout(), rows)
		},
	}
}

func newAccountRow(acc *models.Account, files int64) accountRow {
	row := accountRow{
		ID:      acc.ID,
		Email:   acc.Email,
		Active:  acc.IsActive,
		Default: acc.IsDefault,
		Files:   files,
		Reason:  acc.DeactivatedReason,
	}
	if !acc.ExpiresAt.IsZero() {
		expires := acc.ExpiresAt
		row.ExpiresAt = &expires
	}
	return row
}

func printAccounts(w io.Writer, rows []accountRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No accounts linked. Run 'filedesk login' or open /auth/provider/login.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tACTIVE\tDEFAULT\tEXPIRES\tFILES\tNOTE")
	for _, r := range rows {
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Email, yesNo(r.Active), yesNo(r.Default), expires, r.Files, r.Reason)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
