package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/T3-Labs/emotion-capture/pkg/capture"
	"github.com/T3-Labs/emotion-capture/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var fConfig string

	rootCmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load, validate and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(fConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			out := cmd.OutOrStdout()
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}

			fmt.Fprintln(out, "# derived")
			fmt.Fprintf(out, "# analyze_url: %s\n", cfg.Agent.AnalyzeURL())
			fmt.Fprintf(out, "# capture_interval: %s\n", capture.ParseInterval(fmt.Sprint(cfg.Agent.IntervalSeconds)))
			fmt.Fprintf(out, "# request_timeout: %s\n", cfg.Agent.RequestTimeout())
			fmt.Fprintf(out, "# circuit_reset: %s\n", cfg.Optimization.CircuitResetTimeout())
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&fConfig, "config", "c", "config.toml", "path to a TOML, YAML or JSON config file")
	return rootCmd
}
