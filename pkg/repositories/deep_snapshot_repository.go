package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// DeepSnapshotRepository defines data access for the append-only deep
// snapshot log.
type DeepSnapshotRepository interface {
	// Create appends one snapshot. The snapshot's ID is set on return.
	Create(ctx context.Context, snap *models.DeepSnapshot) error

	// LatestByRepo returns a repo's most recent deep snapshot, or
	// apperrors.ErrNotFound if the repo was never analyzed.
	LatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.DeepSnapshot, error)
}

type deepSnapshotRepository struct {
	db *database.DB
}

// NewDeepSnapshotRepository creates a deep snapshot repository.
func NewDeepSnapshotRepository(db *database.DB) DeepSnapshotRepository {
	return &deepSnapshotRepository{db: db}
}

func (r *deepSnapshotRepository) Create(ctx context.Context, snap *models.DeepSnapshot) error {
	contributors, err := json.Marshal(snap.Contributors)
	if err != nil {
		return fmt.Errorf("failed to encode contributor metrics: %w", err)
	}
	velocity, err := json.Marshal(snap.Velocity)
	if err != nil {
		return fmt.Errorf("failed to encode velocity metrics: %w", err)
	}
	responsiveness, err := json.Marshal(snap.Responsiveness)
	if err != nil {
		return fmt.Errorf("failed to encode responsiveness metrics: %w", err)
	}
	adoption, err := json.Marshal(snap.Adoption)
	if err != nil {
		return fmt.Errorf("failed to encode adoption metrics: %w", err)
	}
	risk, err := json.Marshal(snap.Risk)
	if err != nil {
		return fmt.Errorf("failed to encode risk metrics: %w", err)
	}

	query := `
		INSERT INTO pulse_deep_snapshots (repo_id, captured_at, contributors, velocity, responsiveness, adoption, risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		snap.RepoID,
		snap.CapturedAt,
		contributors,
		velocity,
		responsiveness,
		adoption,
		risk,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("failed to create deep snapshot: %w", err)
	}
	return nil
}

func (r *deepSnapshotRepository) LatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.DeepSnapshot, error) {
	query := `
		SELECT id, repo_id, captured_at, contributors, velocity, responsiveness, adoption, risk
		FROM pulse_deep_snapshots
		WHERE repo_id = $1
		ORDER BY captured_at DESC
		LIMIT 1`

	var snap models.DeepSnapshot
	var contributors, velocity, responsiveness, adoption, risk []byte
	err := r.db.QueryRow(ctx, query, repoID).Scan(
		&snap.ID,
		&snap.RepoID,
		&snap.CapturedAt,
		&contributors,
		&velocity,
		&responsiveness,
		&adoption,
		&risk,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest deep snapshot: %w", err)
	}

	for _, field := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"contributors", contributors, &snap.Contributors},
		{"velocity", velocity, &snap.Velocity},
		{"responsiveness", responsiveness, &snap.Responsiveness},
		{"adoption", adoption, &snap.Adoption},
		{"risk", risk, &snap.Risk},
	} {
		if err := json.Unmarshal(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s metrics: %w", field.name, err)
		}
	}
	return &snap, nil
}
