package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/logging"
	"github.com/osspulse/pulse-engine/pkg/models"
)

const (
	velocityWeeks        = 12
	activeMonths         = 6
	responsivenessSample = 30
	contributorsPageSize = 100
	minTrendWeeks        = 4
	minResponseSamples   = 3
)

// collectContributors gathers the contributor distribution. Two calls:
// per-contributor commit statistics and the contributors listing (the
// statistics endpoint caps at the top 100, the listing gives a fuller
// headcount).
func (s *analysisService) collectContributors(ctx context.Context, repo *models.Repo) (models.ContributorMetrics, error) {
	var m models.ContributorMetrics

	stats, err := s.client.ContributorStats(ctx, repo.Owner, repo.Name)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		reason := "contributor statistics not exposed"
		m.TotalContributors = models.NotAvailable(reason)
		m.TopShare = models.NotAvailable(reason)
		m.TopFiveShare = models.NotAvailable(reason)
		return m, nil
	case errors.Is(err, apperrors.ErrNotReady), err == nil && len(stats) == 0:
		// GitHub computes these lazily; a cold repo answers 202 or an
		// empty body. The stats exist on a later run.
		reason := "commit statistics not yet computed"
		m.TopShare = models.Insufficient(reason)
		m.TopFiveShare = models.Insufficient(reason)
	case err != nil:
		return m, err
	default:
		totals := make([]int, 0, len(stats))
		sum := 0
		for _, st := range stats {
			totals = append(totals, st.Total)
			sum += st.Total
		}
		sort.Sort(sort.Reverse(sort.IntSlice(totals)))

		if sum == 0 {
			m.TopShare = models.Insufficient("no commits recorded")
			m.TopFiveShare = models.Insufficient("no commits recorded")
		} else {
			m.TopShare = models.Available(float64(totals[0]) / float64(sum))
			topFive := 0
			for i := 0; i < len(totals) && i < 5; i++ {
				topFive += totals[i]
			}
			m.TopFiveShare = models.Available(float64(topFive) / float64(sum))
		}
		m.MonthlyActive = monthlyActiveSeries(stats, s.now())
	}

	listed, err := s.client.ListContributors(ctx, repo.Owner, repo.Name, contributorsPageSize)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			m.TotalContributors = models.NotAvailable("contributors listing not exposed")
			return m, nil
		}
		return m, err
	}
	switch {
	case len(listed) == 0:
		m.TotalContributors = models.Insufficient("empty contributors listing")
	case len(listed) == contributorsPageSize:
		m.TotalContributors = models.PartialValue(float64(len(listed)), "capped at first page")
	default:
		m.TotalContributors = models.Available(float64(len(listed)))
	}
	return m, nil
}

// monthlyActiveSeries counts contributors with at least one commit in each
// of the last activeMonths 30-day windows, oldest first. A contributor is
// counted once per window they were active in, so someone committing every
// week shows up in every window.
func monthlyActiveSeries(stats []github.ContributorStat, now time.Time) []int {
	series := make([]int, activeMonths)
	for _, st := range stats {
		var seen [activeMonths]bool
		for _, week := range st.Weeks {
			if week.Commits == 0 {
				continue
			}
			age := now.Sub(time.Unix(week.WeekStart, 0))
			month := int(age.Hours() / 24 / 30)
			if month < 0 || month >= activeMonths || seen[month] {
				continue
			}
			seen[month] = true
			series[activeMonths-1-month]++
		}
	}
	return series
}

// collectVelocity gathers weekly commit, PR and issue series over the trend
// window and derives a least-squares slope for each. 1 + 24 calls: the
// commit-activity statistics plus one issue search per week per series.
func (s *analysisService) collectVelocity(ctx context.Context, repo *models.Repo) (models.VelocityMetrics, error) {
	var m models.VelocityMetrics

	weeks, err := s.client.CommitActivity(ctx, repo.Owner, repo.Name)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			m.CommitTrendSlope = models.NotAvailable("commit activity not exposed")
		case errors.Is(err, apperrors.ErrNotReady):
			m.CommitTrendSlope = models.Insufficient("commit statistics not yet computed")
		default:
			return m, err
		}
	} else if len(weeks) < minTrendWeeks {
		m.CommitTrendSlope = models.Insufficient("commit statistics not yet computed")
	} else {
		if len(weeks) > velocityWeeks {
			weeks = weeks[len(weeks)-velocityWeeks:]
		}
		commits := make([]int, len(weeks))
		for i, w := range weeks {
			commits[i] = w.Total
		}
		m.WeeklyCommits = commits
		m.CommitTrendSlope = models.Available(slope(commits))
	}

	prs, err := s.weeklySearchCounts(ctx, repo, "is:pr")
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return m, err
		}
		m.PRTrendSlope = models.Failed(logging.SanitizeError(err))
	} else {
		m.WeeklyPRs = prs
		m.PRTrendSlope = models.Available(slope(prs))
	}

	issues, err := s.weeklySearchCounts(ctx, repo, "is:issue")
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return m, err
		}
		m.IssueTrendSlope = models.Failed(logging.SanitizeError(err))
	} else {
		m.WeeklyIssues = issues
		m.IssueTrendSlope = models.Available(slope(issues))
	}
	return m, nil
}

// weeklySearchCounts returns per-week creation counts over the trend window,
// oldest first. One search call per week.
func (s *analysisService) weeklySearchCounts(ctx context.Context, repo *models.Repo, qualifier string) ([]int, error) {
	now := s.now()
	counts := make([]int, velocityWeeks)
	for i := 0; i < velocityWeeks; i++ {
		end := now.AddDate(0, 0, -7*i)
		start := end.AddDate(0, 0, -7)
		query := fmt.Sprintf("repo:%s %s created:%s..%s",
			repo.FullName, qualifier, start.Format("2006-01-02"), end.Format("2006-01-02"))
		count, err := s.client.SearchIssuesCount(ctx, query)
		if err != nil {
			return nil, err
		}
		counts[velocityWeeks-1-i] = count
	}
	return counts, nil
}

// collectResponsiveness measures the median hours to the first maintainer
// comment on recently closed issues and PRs. 1 + up to 30 calls.
func (s *analysisService) collectResponsiveness(ctx context.Context, repo *models.Repo) (models.ResponsivenessMetric, error) {
	var m models.ResponsivenessMetric

	items, err := s.client.ListClosedIssues(ctx, repo.Owner, repo.Name, responsivenessSample)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			reason := "issues not exposed"
			m.MedianIssueResponseHours = models.NotAvailable(reason)
			m.MedianPRResponseHours = models.NotAvailable(reason)
			return m, nil
		}
		return m, err
	}
	m.SampledItems = len(items)

	var issueHours, prHours []float64
	for _, item := range items {
		comments, err := s.client.ListIssueComments(ctx, repo.Owner, repo.Name, item.Number)
		if err != nil {
			if errors.Is(err, apperrors.ErrQuotaExhausted) {
				return m, err
			}
			// One unreadable thread does not void the sample.
			continue
		}
		hours, ok := firstMaintainerResponseHours(item, comments)
		if !ok {
			continue
		}
		if item.IsPullRequest() {
			prHours = append(prHours, hours)
		} else {
			issueHours = append(issueHours, hours)
		}
	}

	m.MedianIssueResponseHours = medianMetric(issueHours)
	m.MedianPRResponseHours = medianMetric(prHours)
	return m, nil
}

// firstMaintainerResponseHours finds the earliest maintainer comment after
// the item was opened.
func firstMaintainerResponseHours(item github.Issue, comments []github.Comment) (float64, bool) {
	var first time.Time
	for _, c := range comments {
		if !c.IsMaintainer() || c.CreatedAt.Before(item.CreatedAt) {
			continue
		}
		if first.IsZero() || c.CreatedAt.Before(first) {
			first = c.CreatedAt
		}
	}
	if first.IsZero() {
		return 0, false
	}
	return first.Sub(item.CreatedAt).Hours(), true
}

func medianMetric(hours []float64) models.Metric {
	if len(hours) < minResponseSamples {
		return models.Insufficient(fmt.Sprintf("only %d responded samples", len(hours)))
	}
	return models.Available(median(hours))
}

// collectAdoption gathers downstream-usage signals. One call for the fresh
// repo record; dependents and download counts have no REST endpoint, so
// those fields stay honestly valueless.
func (s *analysisService) collectAdoption(ctx context.Context, repo *models.Repo) (models.AdoptionMetrics, error) {
	var m models.AdoptionMetrics
	m.Dependents = models.NotAvailable("dependents are not exposed by the REST API")
	m.Downloads30d = models.NotAvailable("no package registry mapping")

	data, err := s.client.GetRepo(ctx, repo.Owner, repo.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			m.ForkToStarRatio = models.NotAvailable("repository no longer accessible")
			return m, nil
		}
		return m, err
	}
	if data.Stars == 0 {
		m.ForkToStarRatio = models.Insufficient("no stars to ratio against")
		return m, nil
	}
	m.ForkToStarRatio = models.Available(float64(data.Forks) / float64(data.Stars))
	return m, nil
}

// deriveRisk computes concentration risk from the contributors group. No
// calls are spent; the fields inherit the source group's availability.
func deriveRisk(c models.ContributorMetrics) models.RiskMetrics {
	var r models.RiskMetrics
	r.TopContributorShare = c.TopShare
	if len(c.MonthlyActive) == 0 {
		r.ActiveMaintainers = models.Insufficient("contributor activity series unavailable")
		return r
	}
	r.ActiveMaintainers = models.Available(float64(c.MonthlyActive[len(c.MonthlyActive)-1]))
	return r
}

func failedContributorMetrics(err error) models.ContributorMetrics {
	reason := logging.SanitizeError(err)
	return models.ContributorMetrics{
		TotalContributors: models.Failed(reason),
		TopShare:          models.Failed(reason),
		TopFiveShare:      models.Failed(reason),
	}
}

func failedVelocityMetrics(err error) models.VelocityMetrics {
	reason := logging.SanitizeError(err)
	return models.VelocityMetrics{
		CommitTrendSlope: models.Failed(reason),
		PRTrendSlope:     models.Failed(reason),
		IssueTrendSlope:  models.Failed(reason),
	}
}

func failedResponsivenessMetric(err error) models.ResponsivenessMetric {
	reason := logging.SanitizeError(err)
	return models.ResponsivenessMetric{
		MedianIssueResponseHours: models.Failed(reason),
		MedianPRResponseHours:    models.Failed(reason),
	}
}

func failedAdoptionMetrics(err error) models.AdoptionMetrics {
	reason := logging.SanitizeError(err)
	return models.AdoptionMetrics{
		Dependents:      models.Failed(reason),
		Downloads30d:    models.Failed(reason),
		ForkToStarRatio: models.Failed(reason),
	}
}

// slope fits a least-squares line through the series and returns its
// per-week rate of change.
func slope(series []int) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range series {
		x, y := float64(i), float64(v)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
