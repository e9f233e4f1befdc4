package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/models"
	"github.com/osspulse/pulse-engine/pkg/repositories"
)

const searchPageSize = 100

// DiscoveryStats reports what a sweep actually accomplished. Status is
// aborted when the quota floor cut the sweep short; the counts then cover
// the pages that did complete.
type DiscoveryStats struct {
	RunID           string           `json:"run_id"`
	Status          models.JobStatus `json:"status"`
	Pages           int              `json:"pages"`
	Candidates      int              `json:"candidates"`
	Eligible        int              `json:"eligible"`
	NewlyEligible   int              `json:"newly_eligible"`
	NewlyIneligible int              `json:"newly_ineligible"`
	Skipped         int              `json:"skipped"`
	CallsUsed       int              `json:"calls_used"`
	Duration        time.Duration    `json:"duration"`
}

// DiscoveryService runs the cheap broad sweep that maintains the eligible
// repository universe. Every sweep upserts repos, appends one discovery
// snapshot per candidate and finishes by refreshing the priority queue.
type DiscoveryService interface {
	// Discover runs one sweep. A quota floor hit mid-sweep yields partial
	// stats with status aborted, not an error.
	Discover(ctx context.Context) (*DiscoveryStats, error)
}

type discoveryService struct {
	client        GitHubClient
	repoRepo      repositories.RepoRepository
	snapshotRepo  repositories.DiscoverySnapshotRepository
	queueService  QueueService
	jobRunService JobRunService
	cfg           config.DiscoveryConfig
	logger        *zap.Logger

	now func() time.Time
}

func NewDiscoveryService(
	client GitHubClient,
	repoRepo repositories.RepoRepository,
	snapshotRepo repositories.DiscoverySnapshotRepository,
	queueService QueueService,
	jobRunService JobRunService,
	cfg config.DiscoveryConfig,
	logger *zap.Logger,
) DiscoveryService {
	return &discoveryService{
		client:        client,
		repoRepo:      repoRepo,
		snapshotRepo:  snapshotRepo,
		queueService:  queueService,
		jobRunService: jobRunService,
		cfg:           cfg,
		logger:        logger.Named("discovery"),
		now:           time.Now,
	}
}

var _ DiscoveryService = (*discoveryService)(nil)

func (s *discoveryService) Discover(ctx context.Context) (*DiscoveryStats, error) {
	run, err := s.jobRunService.Begin(ctx, models.JobTypeDiscovery)
	if err != nil {
		return nil, err
	}
	startCalls := s.client.Calls()
	startedAt := s.now()

	previousEligible, err := s.repoRepo.ListEligibleGitHubIDs(ctx)
	if err != nil {
		s.sealFailed(ctx, run, startCalls, err)
		return nil, err
	}
	wasEligible := make(map[int64]bool, len(previousEligible))
	for _, id := range previousEligible {
		wasEligible[id] = true
	}

	stats := &DiscoveryStats{RunID: run.ID.String(), Status: models.JobStatusCompleted}
	seen := make([]int64, 0, s.cfg.MaxSearchPages*searchPageSize)
	sweepComplete := false
	truncated := false

	query := s.searchQuery()
	s.logger.Info("Sweep started", zap.String("query", query))

	for page := 1; page <= s.cfg.MaxSearchPages; page++ {
		result, err := s.client.SearchRepositories(ctx, query, page, searchPageSize)
		if err != nil {
			if errors.Is(err, apperrors.ErrQuotaExhausted) {
				s.logger.Warn("Quota floor reached, aborting sweep",
					zap.Int("pages_done", stats.Pages))
				stats.Status = models.JobStatusAborted
				break
			}
			s.sealFailed(ctx, run, startCalls, err)
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}
		stats.Pages++

		if result.IncompleteResults {
			// The search timed out upstream; matches missing from this page
			// are indistinguishable from repos that genuinely fell out.
			s.logger.Warn("Search returned incomplete results", zap.Int("page", page))
			truncated = true
		}

		for i := range result.Items {
			candidate := &result.Items[i]
			eligible, err := s.recordCandidate(ctx, candidate, wasEligible, stats)
			if err != nil {
				// One broken candidate must not sink the sweep.
				s.logger.Error("Skipping candidate",
					zap.String("repo", candidate.FullName),
					zap.Error(err))
				stats.Skipped++
				continue
			}
			stats.Candidates++
			if eligible {
				stats.Eligible++
			}
			seen = append(seen, candidate.ID)
		}

		if len(result.Items) < searchPageSize {
			sweepComplete = true
			break
		}
	}
	if stats.Pages == s.cfg.MaxSearchPages && stats.Status == models.JobStatusCompleted {
		sweepComplete = true
	}
	if truncated {
		sweepComplete = false
	}

	// Repos that fell out of the search results entirely (lost stars, got
	// archived) are only demoted after a complete sweep; a truncated sweep
	// cannot tell absent from unvisited. An empty seen set would demote the
	// whole universe, so it never demotes either.
	if sweepComplete && len(seen) > 0 {
		dropped, err := s.repoRepo.MarkIneligibleExcept(ctx, seen)
		if err != nil {
			s.sealFailed(ctx, run, startCalls, err)
			return nil, err
		}
		stats.NewlyIneligible += dropped
	}

	if _, err := s.queueService.Refresh(ctx); err != nil {
		s.sealFailed(ctx, run, startCalls, err)
		return nil, fmt.Errorf("queue refresh after sweep: %w", err)
	}

	stats.CallsUsed = s.client.Calls() - startCalls
	stats.Duration = s.now().Sub(startedAt)

	if err := s.jobRunService.Seal(ctx, run, stats.Status, stats.CallsUsed, statsMap(stats), ""); err != nil {
		return nil, err
	}
	s.logger.Info("Sweep finished",
		zap.String("status", string(stats.Status)),
		zap.Int("candidates", stats.Candidates),
		zap.Int("eligible", stats.Eligible),
		zap.Int("newly_eligible", stats.NewlyEligible),
		zap.Int("newly_ineligible", stats.NewlyIneligible),
		zap.Int("calls_used", stats.CallsUsed))
	return stats, nil
}

// recordCandidate upserts the repo and appends the discovery snapshot that
// captures the values behind its eligibility verdict.
func (s *discoveryService) recordCandidate(ctx context.Context, candidate *github.RepoData, wasEligible map[int64]bool, stats *DiscoveryStats) (bool, error) {
	eligible := s.isEligible(candidate)

	repo := &models.Repo{
		GitHubID:  candidate.ID,
		Owner:     candidate.Owner.Login,
		Name:      candidate.Name,
		FullName:  candidate.FullName,
		Language:  candidate.Language,
		Stars:     candidate.Stars,
		Forks:     candidate.Forks,
		CreatedAt: candidate.CreatedAt,
		PushedAt:  candidate.PushedAt,
		Archived:  candidate.Archived,
		IsFork:    candidate.Fork,
		Eligible:  eligible,
	}
	if err := s.repoRepo.Upsert(ctx, repo); err != nil {
		return false, err
	}

	detail := map[string]any{
		"description": candidate.Description,
		"topics":      candidate.Topics,
		"open_issues": candidate.OpenIssues,
	}
	if candidate.License != nil {
		detail["license"] = candidate.License.SPDXID
	}
	snapshot := &models.DiscoverySnapshot{
		RepoID:     repo.ID,
		CapturedAt: s.now(),
		Stars:      candidate.Stars,
		Forks:      candidate.Forks,
		PushedAt:   candidate.PushedAt,
		Eligible:   eligible,
		Detail:     detail,
	}
	if err := s.snapshotRepo.Create(ctx, snapshot); err != nil {
		return false, err
	}

	if eligible && !wasEligible[candidate.ID] {
		stats.NewlyEligible++
	}
	if !eligible && wasEligible[candidate.ID] {
		stats.NewlyIneligible++
	}
	return eligible, nil
}

// isEligible is the conjunction of all discovery thresholds.
func (s *discoveryService) isEligible(candidate *github.RepoData) bool {
	now := s.now()
	return candidate.Stars >= s.cfg.MinStars &&
		!candidate.Archived &&
		!candidate.Fork &&
		candidate.CreatedAt.After(now.AddDate(0, -s.cfg.MaxAgeMonths, 0)) &&
		candidate.PushedAt.After(now.AddDate(0, 0, -s.cfg.MaxDaysSincePush))
}

// searchQuery renders the discovery thresholds as a GitHub search query. The
// search narrows the candidate stream; isEligible remains the authority on
// every verdict.
func (s *discoveryService) searchQuery() string {
	createdAfter := s.now().AddDate(0, -s.cfg.MaxAgeMonths, 0)
	return fmt.Sprintf("stars:>=%d created:>=%s archived:false fork:false",
		s.cfg.MinStars, createdAfter.Format("2006-01-02"))
}

func (s *discoveryService) sealFailed(ctx context.Context, run *models.JobRun, startCalls int, cause error) {
	callsUsed := s.client.Calls() - startCalls
	if err := s.jobRunService.Seal(ctx, run, models.JobStatusFailed, callsUsed, nil, cause.Error()); err != nil {
		s.logger.Error("Failed to seal failed run", zap.Error(err))
	}
}

func statsMap(stats *DiscoveryStats) map[string]any {
	return map[string]any{
		"pages":            stats.Pages,
		"candidates":       stats.Candidates,
		"eligible":         stats.Eligible,
		"newly_eligible":   stats.NewlyEligible,
		"newly_ineligible": stats.NewlyIneligible,
		"skipped":          stats.Skipped,
	}
}
