package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))
			fmt.Fprintf(out, "Default model: %s\n", cfg.DefaultModel())
			fmt.Fprintf(out, "Iteration cap: %d, fix attempts: %d\n", cfg.Runtime.MaxIterations, cfg.Runtime.MaxFixAttempts)
			fmt.Fprintf(out, "Sandbox: %d denied patterns, %ds timeout\n", len(cfg.Sandbox.DeniedPatterns), cfg.Sandbox.TimeoutSeconds)
			if cfg.Verify.WorkspaceCommand == "" {
				fmt.Fprintln(out, "Warning: no workspace verification command configured; runs complete without checks")
			}
			return nil
		},
	}
}
