package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var watchlistTop int

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Score accumulated snapshots into a new watchlist generation",
	Long: `Score every eligible repository with analysis data on the momentum,
durability and adoption tracks and write the result as a new immutable
generation. Prior generations stay on record.

Scoring spends no API calls; it works entirely from stored snapshots.
Use "watchlist latest" to render the most recent generation without
scoring again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		scored, stats, err := watchlistService.Generate(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Watchlist generated: %d included of %d scored\n",
			stats.Included, stats.Considered)
		return renderWatchlist(os.Stdout, scored, watchlistTop)
	},
}

var watchlistLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent watchlist generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := runContext()
		defer stop()

		scored, err := watchlistService.Latest(ctx)
		if err != nil {
			return err
		}
		return renderWatchlist(os.Stdout, scored, watchlistTop)
	},
}

func init() {
	watchlistCmd.PersistentFlags().IntVar(&watchlistTop, "top", 25, "number of entries to display (0 = all)")
}
