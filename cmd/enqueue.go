package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// newEnqueueCmd creates the 'enqueue' subcommand, which inserts pending
// jobs directly into the durable queue without starting the dispatcher.
func newEnqueueCmd() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue TARGET...",
		Short: "Enqueues fetch jobs for the given targets",
		Long: `Inserts one pending job per target URL into the durable queue. A
running dispatcher (this process or any other sharing the queue) will
claim and execute them in priority order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, target := range args {
				jobID, err := a.GetQueue().Enqueue(cmd.Context(), fetchd.Job{
					Target:   target,
					Priority: priority,
				})
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", target, err)
				}
				a.GetLogger().Info("job enqueued",
					zap.String("job_id", jobID),
					zap.String("target", target),
					zap.Int("priority", priority),
				)
				fmt.Fprintln(cmd.OutOrStdout(), jobID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "job priority (higher first)")
	return cmd
}
