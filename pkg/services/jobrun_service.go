// Package services implements the pipeline stages: discovery of the eligible
// universe, priority queue maintenance, budgeted deep analysis and watchlist
// scoring, each wrapped in an auditable job run.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/models"
	"github.com/osspulse/pulse-engine/pkg/repositories"
)

// JobRunService brackets every pipeline run with an auditable record. Two
// runs of the same type must never execute concurrently: they would
// double-spend the shared quota and budget counters. The database enforces
// this with a partial unique index on open runs; Begin surfaces a collision
// as ErrRunInProgress.
type JobRunService interface {
	// Begin opens a run of the given type. It fails with
	// apperrors.ErrRunInProgress when a run of the same type is still open.
	Begin(ctx context.Context, jobType models.JobType) (*models.JobRun, error)

	// Seal closes a run exactly once with its final status, stats and call
	// usage. A run must always be sealed, even after failure or cancellation;
	// a run left open forever is a correctness bug.
	Seal(ctx context.Context, run *models.JobRun, status models.JobStatus, callsUsed int, stats map[string]any, errMsg string) error

	// ListRecent returns the most recently started runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.JobRun, error)
}

type jobRunService struct {
	jobRunRepo repositories.JobRunRepository
	logger     *zap.Logger
}

func NewJobRunService(jobRunRepo repositories.JobRunRepository, logger *zap.Logger) JobRunService {
	return &jobRunService{
		jobRunRepo: jobRunRepo,
		logger:     logger.Named("jobrun"),
	}
}

var _ JobRunService = (*jobRunService)(nil)

func (s *jobRunService) Begin(ctx context.Context, jobType models.JobType) (*models.JobRun, error) {
	run := &models.JobRun{
		ID:        uuid.New(),
		JobType:   jobType,
		StartedAt: time.Now(),
		Stats:     map[string]any{},
	}
	if err := s.jobRunRepo.Create(ctx, run); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%s run already open: %w", jobType, apperrors.ErrRunInProgress)
		}
		return nil, fmt.Errorf("failed to begin %s run: %w", jobType, err)
	}

	s.logger.Info("Run started",
		zap.String("run_id", run.ID.String()),
		zap.String("job_type", string(jobType)))
	return run, nil
}

func (s *jobRunService) Seal(ctx context.Context, run *models.JobRun, status models.JobStatus, callsUsed int, stats map[string]any, errMsg string) error {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	run.CallsUsed = callsUsed
	run.Stats = stats
	run.ErrorMessage = errMsg

	if err := s.jobRunRepo.Seal(ctx, run); err != nil {
		return fmt.Errorf("failed to seal %s run: %w", run.JobType, err)
	}

	s.logger.Info("Run sealed",
		zap.String("run_id", run.ID.String()),
		zap.String("job_type", string(run.JobType)),
		zap.String("status", string(status)),
		zap.Int("calls_used", callsUsed),
		zap.Duration("duration", now.Sub(run.StartedAt)))
	return nil
}

func (s *jobRunService) ListRecent(ctx context.Context, limit int) ([]*models.JobRun, error) {
	return s.jobRunRepo.ListRecent(ctx, limit)
}
