package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent job runs and the current queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		runs, err := jobRunService.ListRecent(ctx, statusLimit)
		if err != nil {
			return err
		}
		if err := renderJobRuns(os.Stdout, runs); err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout)
		summary, err := queueService.Summary(ctx)
		if err != nil {
			return err
		}
		return renderQueueSummary(os.Stdout, summary)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of job runs to show")
}
