package main

import (
	"fmt"

	"github.com/jason-s-yu/lobbyd/internal/auth"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var privPath, pubPath string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for monitor tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := auth.GenerateKeys(0)
			if err != nil {
				return err
			}
			if err := keys.WriteKeys(privPath, pubPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "private", "monitor.key", "private key output path")
	cmd.Flags().StringVar(&pubPath, "public", "monitor.pub", "public key output path")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var privPath, pubPath, subject, expire string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a monitor token signed with an existing key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			expiry, err := auth.ParseExpiry(expire)
			if err != nil {
				return err
			}
			keys, err := auth.LoadKeys(privPath, pubPath, expiry)
			if err != nil {
				return err
			}
			token, err := keys.CreateJWT(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "private", "monitor.key", "private key path")
	cmd.Flags().StringVar(&pubPath, "public", "monitor.pub", "public key path")
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&expire, "expire", "24h", `token lifetime, or "never"`)
	return cmd
}
