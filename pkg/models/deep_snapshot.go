package models

import (
	"time"

	"github.com/google/uuid"
)

// DeepSnapshot is an immutable point-in-time capture of the expensive
// per-repository metrics. Exactly one snapshot is written per analyzed
// repository per run. Raw inputs are retained next to the values derived
// from them so every derived number can be audited.
type DeepSnapshot struct {
	ID         uuid.UUID `json:"id"`
	RepoID     uuid.UUID `json:"repo_id"`
	CapturedAt time.Time `json:"captured_at"`

	Contributors   ContributorMetrics   `json:"contributors"`
	Velocity       VelocityMetrics      `json:"velocity"`
	Responsiveness ResponsivenessMetric `json:"responsiveness"`
	Adoption       AdoptionMetrics      `json:"adoption"`
	Risk           RiskMetrics          `json:"risk"`
}

// ContributorMetrics captures contributor distribution over recent history.
type ContributorMetrics struct {
	// MonthlyActive is the raw per-month active contributor series (last ~6
	// months) the derived metrics were computed from.
	MonthlyActive []int `json:"monthly_active,omitempty"`

	TotalContributors Metric `json:"total_contributors"`
	TopShare          Metric `json:"top_share"`      // top contributor's commit share
	TopFiveShare      Metric `json:"top_five_share"` // top five contributors' share
}

// VelocityMetrics captures activity volume and trend over the last 12 weeks.
type VelocityMetrics struct {
	// Raw weekly series retained for auditability.
	WeeklyCommits []int `json:"weekly_commits,omitempty"`
	WeeklyPRs     []int `json:"weekly_prs,omitempty"`
	WeeklyIssues  []int `json:"weekly_issues,omitempty"`

	CommitTrendSlope Metric `json:"commit_trend_slope"`
	PRTrendSlope     Metric `json:"pr_trend_slope"`
	IssueTrendSlope  Metric `json:"issue_trend_slope"`
}

// ResponsivenessMetric captures median hours to the first maintainer
// response on recently closed issues and pull requests.
type ResponsivenessMetric struct {
	MedianIssueResponseHours Metric `json:"median_issue_response_hours"`
	MedianPRResponseHours    Metric `json:"median_pr_response_hours"`

	// SampledItems is the number of closed items inspected.
	SampledItems int `json:"sampled_items"`
}

// AdoptionMetrics captures downstream-usage signals.
type AdoptionMetrics struct {
	Dependents      Metric `json:"dependents"`
	Downloads30d    Metric `json:"downloads_30d"`
	ForkToStarRatio Metric `json:"fork_to_star_ratio"`
}

// RiskMetrics captures community concentration risk, derived from the
// contributor distribution.
type RiskMetrics struct {
	TopContributorShare Metric `json:"top_contributor_share"`
	ActiveMaintainers   Metric `json:"active_maintainers"`
}
