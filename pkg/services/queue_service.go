package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/models"
	"github.com/osspulse/pulse-engine/pkg/repositories"
)

// QueueStats reports one queue refresh.
type QueueStats struct {
	Upserted   int         `json:"upserted"`
	Removed    int         `json:"removed"`
	ByPriority map[int]int `json:"by_priority"`
}

// QueueService maintains the analysis priority queue. Refresh recomputes
// every eligible repo's score; the stale tier guarantees that a repo left
// unanalyzed long enough eventually outranks repeatedly reanalyzed baseline
// entries. That guarantee is liveness under sufficient budget, not a
// real-time bound; Summary exposes the oldest analysis time so operators can
// watch it hold.
type QueueService interface {
	// Refresh recomputes scores for all eligible repos and removes entries
	// of repos that turned ineligible. Discovery sweeps call it directly, so
	// the refresh is accounted inside the sweep's own job run.
	Refresh(ctx context.Context) (*QueueStats, error)

	// RefreshTracked runs Refresh under its own queue_refresh job run. The
	// standalone refresh path goes through here so the run ledger records it.
	RefreshTracked(ctx context.Context) (*QueueStats, error)

	// Pull returns up to n repos in analysis order without consuming them;
	// consumption is recorded by MarkAnalyzed when analysis completes.
	Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error)

	// MarkAnalyzed records a completed deep analysis, which feeds the stale
	// tier on the next refresh.
	MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error

	// Summary reports queue depth per tier and coverage age.
	Summary(ctx context.Context) (*models.QueueSummary, error)
}

// repoSignals bundles everything the priority rules may look at.
type repoSignals struct {
	repo           *models.Repo
	lastAnalyzedAt *time.Time
	starVelocity   float64 // stars per day between the last two sweeps
	hasVelocity    bool
	now            time.Time
}

// priorityRule is one scoring rule. Rules are data so tests can enumerate
// them; the queue assigns the maximum score among matching rules.
type priorityRule struct {
	name    string
	score   int
	matches func(cfg config.QueueConfig, sig repoSignals) bool
}

// priorityRules is ordered by descending score, so the first match is the
// maximum. The baseline rule matches everything eligible.
var priorityRules = []priorityRule{
	{
		name:  "newly_eligible",
		score: models.PriorityNewlyEligible,
		matches: func(cfg config.QueueConfig, sig repoSignals) bool {
			return sig.repo.FirstDiscoveredAt.After(sig.now.AddDate(0, 0, -cfg.NewlyEligibleDays))
		},
	},
	{
		name:  "high_momentum",
		score: models.PriorityHighMomentum,
		matches: func(cfg config.QueueConfig, sig repoSignals) bool {
			return sig.hasVelocity && sig.starVelocity > cfg.VelocityThreshold
		},
	},
	{
		name:  "activity_spike",
		score: models.PriorityActivitySpike,
		matches: func(cfg config.QueueConfig, sig repoSignals) bool {
			return sig.repo.PushedAt.After(sig.now.AddDate(0, 0, -cfg.ActivitySpikeDays))
		},
	},
	{
		name:  "stale",
		score: models.PriorityStale,
		matches: func(cfg config.QueueConfig, sig repoSignals) bool {
			cutoff := sig.now.AddDate(0, 0, -cfg.StaleDays)
			return sig.lastAnalyzedAt == nil || sig.lastAnalyzedAt.Before(cutoff)
		},
	},
	{
		name:    "baseline",
		score:   models.PriorityBaseline,
		matches: func(config.QueueConfig, repoSignals) bool { return true },
	},
}

// scoreRepo returns the maximum matching rule. priorityRules is ordered by
// score, so the scan stops at the first hit.
func scoreRepo(cfg config.QueueConfig, sig repoSignals) (int, string) {
	for _, rule := range priorityRules {
		if rule.matches(cfg, sig) {
			return rule.score, rule.name
		}
	}
	return models.PriorityBaseline, "baseline"
}

type queueService struct {
	repoRepo      repositories.RepoRepository
	queueRepo     repositories.QueueRepository
	snapshotRepo  repositories.DiscoverySnapshotRepository
	jobRunService JobRunService
	cfg           config.QueueConfig
	logger        *zap.Logger

	now func() time.Time
}

func NewQueueService(
	repoRepo repositories.RepoRepository,
	queueRepo repositories.QueueRepository,
	snapshotRepo repositories.DiscoverySnapshotRepository,
	jobRunService JobRunService,
	cfg config.QueueConfig,
	logger *zap.Logger,
) QueueService {
	return &queueService{
		repoRepo:      repoRepo,
		queueRepo:     queueRepo,
		snapshotRepo:  snapshotRepo,
		jobRunService: jobRunService,
		cfg:           cfg,
		logger:        logger.Named("queue"),
		now:           time.Now,
	}
}

var _ QueueService = (*queueService)(nil)

func (s *queueService) Refresh(ctx context.Context) (*QueueStats, error) {
	repos, err := s.repoRepo.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	lastAnalyzed, err := s.queueRepo.LastAnalyzedTimes(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := &QueueStats{ByPriority: make(map[int]int)}

	for _, repo := range repos {
		velocity, hasVelocity, err := s.starVelocity(ctx, repo.ID)
		if err != nil {
			return nil, fmt.Errorf("star velocity for %s: %w", repo.FullName, err)
		}
		score, reason := scoreRepo(s.cfg, repoSignals{
			repo:           repo,
			lastAnalyzedAt: lastAnalyzed[repo.ID],
			starVelocity:   velocity,
			hasVelocity:    hasVelocity,
			now:            now,
		})

		entry := &models.QueueEntry{RepoID: repo.ID, Priority: score, Reason: reason}
		if err := s.queueRepo.Upsert(ctx, entry); err != nil {
			return nil, err
		}
		stats.Upserted++
		stats.ByPriority[score]++
	}

	removed, err := s.queueRepo.DeleteIneligible(ctx)
	if err != nil {
		return nil, err
	}
	stats.Removed = removed

	s.logger.Info("Queue refreshed",
		zap.Int("upserted", stats.Upserted),
		zap.Int("removed", stats.Removed))
	return stats, nil
}

func (s *queueService) RefreshTracked(ctx context.Context) (*QueueStats, error) {
	run, err := s.jobRunService.Begin(ctx, models.JobTypeQueueRefresh)
	if err != nil {
		return nil, err
	}

	stats, err := s.Refresh(ctx)
	if err != nil {
		// A refresh spends no API calls, tracked or not.
		if sealErr := s.jobRunService.Seal(ctx, run, models.JobStatusFailed, 0, nil, err.Error()); sealErr != nil {
			s.logger.Error("Failed to seal failed run", zap.Error(sealErr))
		}
		return nil, err
	}

	runStats := map[string]any{
		"upserted": stats.Upserted,
		"removed":  stats.Removed,
	}
	if err := s.jobRunService.Seal(ctx, run, models.JobStatusCompleted, 0, runStats, ""); err != nil {
		return nil, err
	}
	return stats, nil
}

// starVelocity derives stars/day from the two most recent discovery
// snapshots. One sweep is not enough to measure momentum.
func (s *queueService) starVelocity(ctx context.Context, repoID uuid.UUID) (float64, bool, error) {
	snaps, err := s.snapshotRepo.ListRecentByRepo(ctx, repoID, 2)
	if err != nil {
		return 0, false, err
	}
	velocity, ok := starVelocityFromSnapshots(snaps)
	return velocity, ok, nil
}

// starVelocityFromSnapshots computes stars/day between the two newest
// snapshots, newest first.
func starVelocityFromSnapshots(snaps []*models.DiscoverySnapshot) (float64, bool) {
	if len(snaps) < 2 {
		return 0, false
	}
	newer, older := snaps[0], snaps[1]
	days := newer.CapturedAt.Sub(older.CapturedAt).Hours() / 24
	if days <= 0 {
		return 0, false
	}
	return float64(newer.Stars-older.Stars) / days, true
}

func (s *queueService) Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error) {
	return s.queueRepo.Pull(ctx, n)
}

func (s *queueService) MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error {
	return s.queueRepo.MarkAnalyzed(ctx, repoID, at)
}

func (s *queueService) Summary(ctx context.Context) (*models.QueueSummary, error) {
	return s.queueRepo.Summary(ctx)
}
