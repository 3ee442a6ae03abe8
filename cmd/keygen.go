package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-health-crawler/internal/credentials"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Prints a fresh credentials secret",
		Long: `Generates a random secret suitable for credentials.secret
(SITEHEALTH_CREDENTIALS_SECRET). Rotating the secret makes stored app
passwords unreadable.`,
		Args: cobra.NoArgs,
		// keygen needs no configuration or services.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := credentials.GenerateSecret()
			if err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
			return err
		},
	}
}
