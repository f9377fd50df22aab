// Command conveyord runs the Conveyor pipeline daemon. It is equivalent to
// `conveyor daemon` and exists for service managers that expect a dedicated
// binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
)

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		opts       daemonrun.Options
	)
	cmd := &cobra.Command{
		Use:           "conveyord",
		Short:         "Conveyor pipeline daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Start without running preflight checks")
	return cmd
}
