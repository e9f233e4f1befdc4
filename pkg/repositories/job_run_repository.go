package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// JobRunRepository defines data access for pipeline run records.
type JobRunRepository interface {
	// Create inserts an open run. A partial unique index allows only one
	// running record per job type; a collision maps to apperrors.ErrConflict.
	Create(ctx context.Context, run *models.JobRun) error

	// Seal closes an open run with its final status, call usage and stats.
	Seal(ctx context.Context, run *models.JobRun) error

	// GetByID fetches a single run.
	GetByID(ctx context.Context, id uuid.UUID) (*models.JobRun, error)

	// ListRecent returns the most recently started runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.JobRun, error)
}

type jobRunRepository struct {
	db *database.DB
}

// NewJobRunRepository creates a job run repository backed by PostgreSQL.
func NewJobRunRepository(db *database.DB) JobRunRepository {
	return &jobRunRepository{db: db}
}

func (r *jobRunRepository) Create(ctx context.Context, run *models.JobRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.JobStatusRunning

	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	query := `
		INSERT INTO pulse_job_runs (id, job_type, started_at, status, calls_used, stats)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at`

	err = r.db.QueryRow(ctx, query,
		run.ID,
		run.JobType,
		run.StartedAt,
		run.Status,
		run.CallsUsed,
		statsJSON,
	).Scan(&run.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

func (r *jobRunRepository) Seal(ctx context.Context, run *models.JobRun) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	query := `
		UPDATE pulse_job_runs
		SET finished_at = $2, status = $3, calls_used = $4, stats = $5, error_message = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		run.ID,
		run.FinishedAt,
		run.Status,
		run.CallsUsed,
		statsJSON,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to seal job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *jobRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.JobRun, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, job_type, started_at, finished_at, status, calls_used, stats, error_message
		FROM pulse_job_runs
		WHERE id = $1`, id)

	run, err := scanJobRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return run, err
}

func (r *jobRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.JobRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, job_type, started_at, finished_at, status, calls_used, stats, error_message
		FROM pulse_job_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanJobRun(row pgx.Row) (*models.JobRun, error) {
	var run models.JobRun
	var statsJSON []byte
	var errorMessage *string

	err := row.Scan(
		&run.ID,
		&run.JobType,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.CallsUsed,
		&statsJSON,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode run stats: %w", err)
		}
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	return &run, nil
}
