package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every flow for consistency",
	Long:  `Compiles each flow of the configured source and reports dead links, missing roots and unreachable nodes.
Flows that read a field masked by store.pii_fields are reported as warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeFn, err := cli.OpenFlows(cmd.Context(), cfg.Flows, logging.NewNop())
		if err != nil {
			return err
		}
		defer closeFn()

		if err := cli.ValidateFlows(cmd.Context(), repo, cmd.OutOrStdout(), cfg.Store.PIIFields); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Flows are valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
