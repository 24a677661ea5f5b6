// Package cmd defines and implements the CLI commands for the fetchd
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/app"
	"github.com/webgrove/fetchd/internal/config"
	"github.com/webgrove/fetchd/internal/logging"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newRootCmd creates and configures the root command. Service wiring
// happens in PersistentPreRunE so every subcommand gets an initialized
// container from the context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchd",
		Short: "A resource-governed continuous fetch dispatcher.",
		Long: `fetchd continuously pulls fetch jobs from a durable queue and executes
them under CPU, memory, and concurrency ceilings. Claimed work survives
process crashes; duplicate targets are suppressed against a completed
index; failures are retried with a bounded budget.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(cmd.Context())
				_ = a.GetLogger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is env-only)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newEnqueueCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
