package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/logging"
	"github.com/osspulse/pulse-engine/pkg/models"
	"github.com/osspulse/pulse-engine/pkg/repositories"
)

// Declared call cost per metric group. The budget check runs against these
// before an entity starts, so each group's happy-path usage must stay at or
// below its declared cost. The check is an estimate: every physical attempt
// counts against Calls(), including retries of throttled requests, so a run
// that hits secondary limits can finish somewhat above the declared costs.
const (
	costContributors   = 2  // contributor stats + contributors listing
	costVelocity       = 25 // commit activity + 12 PR and 12 issue search weeks
	costResponsiveness = 31 // closed issues listing + up to 30 comment fetches
	costAdoption       = 1  // repo fetch
	costRisk           = 0  // derived from the contributors group

	entityCost = costContributors + costVelocity + costResponsiveness + costAdoption + costRisk
)

// maxConsecutivePersistFailures aborts a run that keeps failing to write;
// isolated write failures only skip the one entity.
const maxConsecutivePersistFailures = 3

// AnalysisStats reports one deep-analysis run.
type AnalysisStats struct {
	RunID            string           `json:"run_id"`
	Status           models.JobStatus `json:"status"`
	EntitiesPulled   int              `json:"entities_pulled"`
	EntitiesAnalyzed int              `json:"entities_analyzed"`
	EntitiesSkipped  int              `json:"entities_skipped"`
	CallsUsed        int              `json:"calls_used"`
	StoppedReason    string           `json:"stopped_reason,omitempty"`
	Duration         time.Duration    `json:"duration"`
}

// AnalysisService performs the expensive per-repo measurement step. It pulls
// repos in priority order and spends from a per-run call budget that is
// independent of, but bounded by, the external quota.
type AnalysisService interface {
	// Run analyzes up to maxEntities repos within maxCalls. Zero arguments
	// fall back to the configured budgets. The budget check happens before
	// each entity, never mid-entity; a quota floor hit aborts the run with
	// everything analyzed so far committed.
	Run(ctx context.Context, maxCalls, maxEntities int) (*AnalysisStats, error)
}

type analysisService struct {
	client        GitHubClient
	deepRepo      repositories.DeepSnapshotRepository
	queueService  QueueService
	jobRunService JobRunService
	cfg           config.AnalysisConfig
	logger        *zap.Logger

	now func() time.Time
}

func NewAnalysisService(
	client GitHubClient,
	deepRepo repositories.DeepSnapshotRepository,
	queueService QueueService,
	jobRunService JobRunService,
	cfg config.AnalysisConfig,
	logger *zap.Logger,
) AnalysisService {
	return &analysisService{
		client:        client,
		deepRepo:      deepRepo,
		queueService:  queueService,
		jobRunService: jobRunService,
		cfg:           cfg,
		logger:        logger.Named("analysis"),
		now:           time.Now,
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) Run(ctx context.Context, maxCalls, maxEntities int) (*AnalysisStats, error) {
	if maxCalls <= 0 {
		maxCalls = s.cfg.MaxCallsPerRun
	}
	if maxEntities <= 0 {
		maxEntities = s.cfg.MaxEntitiesPerRun
	}

	run, err := s.jobRunService.Begin(ctx, models.JobTypeAnalysis)
	if err != nil {
		return nil, err
	}
	startCalls := s.client.Calls()
	startedAt := s.now()
	stats := &AnalysisStats{RunID: run.ID.String(), Status: models.JobStatusCompleted}

	queued, err := s.queueService.Pull(ctx, maxEntities)
	if err != nil {
		s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusFailed, err.Error())
		return nil, err
	}
	stats.EntitiesPulled = len(queued)

	persistFailures := 0
	for _, item := range queued {
		if ctx.Err() != nil {
			stats.StoppedReason = "cancelled"
			s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusAborted, ctx.Err().Error())
			return stats, nil
		}

		callsUsed := s.client.Calls() - startCalls
		if callsUsed+entityCost > maxCalls {
			// Graceful truncation: never start an entity the budget cannot
			// cover in full.
			stats.StoppedReason = "budget"
			s.logger.Info("Budget would be exceeded, stopping",
				zap.Int("calls_used", callsUsed),
				zap.Int("entity_cost", entityCost),
				zap.Int("max_calls", maxCalls))
			break
		}

		snapshot, err := s.analyzeRepo(ctx, &item.Repo)
		if err != nil {
			if errors.Is(err, apperrors.ErrQuotaExhausted) {
				stats.StoppedReason = "quota"
				s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusAborted, err.Error())
				return stats, nil
			}
			s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusFailed, err.Error())
			return nil, err
		}

		if err := s.deepRepo.Create(ctx, snapshot); err != nil {
			s.logger.Error("Failed to persist deep snapshot",
				zap.String("repo", item.Repo.FullName),
				zap.String("error", logging.SanitizeError(err)))
			stats.EntitiesSkipped++
			persistFailures++
			if persistFailures >= maxConsecutivePersistFailures {
				stats.StoppedReason = "persistence"
				s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusFailed,
					fmt.Sprintf("%d consecutive persistence failures", persistFailures))
				return stats, nil
			}
			continue
		}
		persistFailures = 0

		if err := s.queueService.MarkAnalyzed(ctx, item.Repo.ID, s.now()); err != nil {
			s.logger.Error("Failed to mark repo analyzed",
				zap.String("repo", item.Repo.FullName),
				zap.Error(err))
		}
		stats.EntitiesAnalyzed++
	}

	s.seal(ctx, run, stats, startCalls, startedAt, models.JobStatusCompleted, "")
	return stats, nil
}

// analyzeRepo computes all metric groups for one repo. Groups are
// independent: a failing group records its fields with availability error
// and the remaining groups still run. Only a quota floor hit escapes as an
// error and aborts the caller's loop.
func (s *analysisService) analyzeRepo(ctx context.Context, repo *models.Repo) (*models.DeepSnapshot, error) {
	snapshot := &models.DeepSnapshot{
		RepoID:     repo.ID,
		CapturedAt: s.now(),
	}

	contributors, err := s.collectContributors(ctx, repo)
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return nil, err
		}
		contributors = failedContributorMetrics(err)
		s.logGroupFailure(repo, "contributors", err)
	}
	snapshot.Contributors = contributors

	velocity, err := s.collectVelocity(ctx, repo)
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return nil, err
		}
		velocity = failedVelocityMetrics(err)
		s.logGroupFailure(repo, "velocity", err)
	}
	snapshot.Velocity = velocity

	responsiveness, err := s.collectResponsiveness(ctx, repo)
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return nil, err
		}
		responsiveness = failedResponsivenessMetric(err)
		s.logGroupFailure(repo, "responsiveness", err)
	}
	snapshot.Responsiveness = responsiveness

	adoption, err := s.collectAdoption(ctx, repo)
	if err != nil {
		if errors.Is(err, apperrors.ErrQuotaExhausted) {
			return nil, err
		}
		adoption = failedAdoptionMetrics(err)
		s.logGroupFailure(repo, "adoption", err)
	}
	snapshot.Adoption = adoption

	// Risk is derived from the contributors group and costs no calls; it
	// inherits that group's availability.
	snapshot.Risk = deriveRisk(snapshot.Contributors)

	return snapshot, nil
}

func (s *analysisService) logGroupFailure(repo *models.Repo, group string, err error) {
	s.logger.Warn("Metric group failed",
		zap.String("repo", repo.FullName),
		zap.String("group", group),
		zap.String("error", logging.SanitizeError(err)))
}

func (s *analysisService) seal(ctx context.Context, run *models.JobRun, stats *AnalysisStats, startCalls int, startedAt time.Time, status models.JobStatus, errMsg string) {
	// Sealing must survive the cancellation that stopped the run; a run row
	// left in running state forever is a correctness bug.
	ctx = context.WithoutCancel(ctx)
	stats.Status = status
	stats.CallsUsed = s.client.Calls() - startCalls
	stats.Duration = s.now().Sub(startedAt)

	runStats := map[string]any{
		"entities_pulled":   stats.EntitiesPulled,
		"entities_analyzed": stats.EntitiesAnalyzed,
		"entities_skipped":  stats.EntitiesSkipped,
	}
	if stats.StoppedReason != "" {
		runStats["stopped_reason"] = stats.StoppedReason
	}
	if err := s.jobRunService.Seal(ctx, run, status, stats.CallsUsed, runStats, errMsg); err != nil {
		s.logger.Error("Failed to seal analysis run", zap.Error(err))
	}
}
