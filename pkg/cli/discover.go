package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep the search API for eligible repositories",
	Long: `Run one discovery sweep: page through the search results for the
configured eligibility window, upsert every candidate, record a star-count
snapshot per eligible repo and refresh the analysis queue.

A sweep is cheap (search API, one call per page) and idempotent; repos that
vanish from the results are marked ineligible only when the sweep completed
all pages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		stats, err := discoveryService.Discover(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Discovery %s: %d pages, %d candidates, %d eligible (%d new, %d dropped), %d calls in %s\n",
			statusLabel(stats.Status), stats.Pages, stats.Candidates, stats.Eligible,
			stats.NewlyEligible, stats.NewlyIneligible, stats.CallsUsed,
			stats.Duration.Round(time.Millisecond))
		if stats.Skipped > 0 {
			fmt.Fprintf(os.Stdout, "Skipped %d candidates with errors (see logs)\n", stats.Skipped)
		}
		return nil
	},
}
