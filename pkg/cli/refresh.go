package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var refreshQueueCmd = &cobra.Command{
	Use:   "refresh-queue",
	Short: "Recompute analysis priorities for all eligible repositories",
	Long: `Rescore every eligible repository against the priority rules (newly
eligible, high momentum, activity spike, stale, baseline) and remove queue
entries of repositories that turned ineligible.

Discovery refreshes the queue automatically after each sweep; this command
reapplies the rules without spending any API calls, for example after
changing queue thresholds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		stats, err := queueService.RefreshTracked(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Queue refreshed: %d scored, %d removed\n", stats.Upserted, stats.Removed)

		summary, err := queueService.Summary(ctx)
		if err != nil {
			return err
		}
		return renderQueueSummary(os.Stdout, summary)
	},
}
