package main

import (
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Link a storage account through the browser",
		Long: `Start a temporary callback server on 127.0.0.1 and print the consent URL.
The account is linked, activated and, when no default exists, made the default.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(resolvedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			lb, err := a.oauth.StartLoopback(port)
			if err != nil {
				return err
			}
			cmd.Printf("Open this URL in your browser to authorize:\n\n  %s\n\n", lb.AuthURL)

			acc, err := lb.Wait(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Linked %s (default: %s)\n", acc.Email, yesNo(acc.IsDefault))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "callback port (0 picks a free one)")
	return cmd
}
