package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	analyzeMaxCalls    int
	analyzeMaxEntities int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run budgeted deep analysis over the priority queue",
	Long: `Pull repositories from the analysis queue in priority order and collect
the deep metric groups (contributors, velocity, responsiveness, adoption,
risk) for each, spending from a per-run API call budget.

The budget is checked before each repository, never mid-repository: a run
stops cleanly at the last repo it could afford, and everything analyzed
before an abort stays committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		stats, err := analysisService.Run(ctx, analyzeMaxCalls, analyzeMaxEntities)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Analysis %s: %d/%d analyzed, %d skipped, %d calls in %s\n",
			statusLabel(stats.Status), stats.EntitiesAnalyzed, stats.EntitiesPulled,
			stats.EntitiesSkipped, stats.CallsUsed, stats.Duration.Round(time.Millisecond))
		if stats.StoppedReason != "" {
			fmt.Fprintf(os.Stdout, "Stopped early: %s\n", stats.StoppedReason)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeMaxCalls, "max-calls", 0, "API call budget for this run (0 = configured default)")
	analyzeCmd.Flags().IntVar(&analyzeMaxEntities, "max-entities", 0, "max repositories to analyze (0 = configured default)")
}
