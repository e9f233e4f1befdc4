package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/osspulse/pulse-engine/pkg/models"
)

var (
	completedColor = color.New(color.FgGreen)
	runningColor   = color.New(color.FgCyan)
	abortedColor   = color.New(color.FgYellow)
	failedColor    = color.New(color.FgRed, color.Bold)
)

func statusLabel(status models.JobStatus) string {
	switch status {
	case models.JobStatusCompleted:
		return completedColor.Sprint(status)
	case models.JobStatusRunning:
		return runningColor.Sprint(status)
	case models.JobStatusAborted:
		return abortedColor.Sprint(status)
	case models.JobStatusFailed:
		return failedColor.Sprint(status)
	default:
		return string(status)
	}
}

// renderWatchlist prints the top entries of a generation, momentum-first.
func renderWatchlist(w io.Writer, scored []*models.ScoredRepo, top int) error {
	if len(scored) == 0 {
		_, err := fmt.Fprintln(w, "Watchlist is empty.")
		return err
	}
	if top > 0 && len(scored) > top {
		scored = scored[:top]
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "Repository", "Stars", "Momentum", "Durability", "Adoption", "Rationale"})

	data := make([][]string, 0, len(scored))
	for i, sr := range scored {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			sr.Repo.FullName,
			strconv.Itoa(sr.Repo.Stars),
			fmt.Sprintf("%.1f", sr.Entry.MomentumScore),
			fmt.Sprintf("%.1f", sr.Entry.DurabilityScore),
			fmt.Sprintf("%.1f", sr.Entry.AdoptionScore),
			sr.Entry.Rationale,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// renderJobRuns prints recent pipeline runs, newest first.
func renderJobRuns(w io.Writer, runs []*models.JobRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No job runs recorded.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Started", "Type", "Status", "Calls", "Duration", "Error"})

	data := make([][]string, 0, len(runs))
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		data = append(data, []string{
			run.StartedAt.Format(time.RFC3339),
			string(run.JobType),
			statusLabel(run.Status),
			strconv.Itoa(run.CallsUsed),
			duration,
			run.ErrorMessage,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// renderQueueSummary prints queue depth per priority tier and coverage age.
func renderQueueSummary(w io.Writer, summary *models.QueueSummary) error {
	if _, err := fmt.Fprintf(w, "Queue: %d entries, %d never analyzed\n",
		summary.Total, summary.NeverAnalyzed); err != nil {
		return err
	}
	if summary.OldestAnalyzedAt != nil {
		if _, err := fmt.Fprintf(w, "Oldest analysis: %s (%s ago)\n",
			summary.OldestAnalyzedAt.Format(time.RFC3339),
			time.Since(*summary.OldestAnalyzedAt).Round(time.Minute)); err != nil {
			return err
		}
	}
	if len(summary.ByPriority) == 0 {
		return nil
	}

	priorities := make([]int, 0, len(summary.ByPriority))
	for p := range summary.ByPriority {
		priorities = append(priorities, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Priority", "Entries"})
	data := make([][]string, 0, len(priorities))
	for _, p := range priorities {
		data = append(data, []string{strconv.Itoa(p), strconv.Itoa(summary.ByPriority[p])})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
