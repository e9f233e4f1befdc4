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

// DiscoverySnapshotRepository defines data access for the append-only
// discovery snapshot log. Snapshots are never updated or deleted.
type DiscoverySnapshotRepository interface {
	// Create appends one snapshot. The snapshot's ID is set on return.
	Create(ctx context.Context, snap *models.DiscoverySnapshot) error

	// ListRecentByRepo returns the newest snapshots of a repo, newest first.
	ListRecentByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.DiscoverySnapshot, error)

	// FirstCrossing returns the earliest snapshot whose star count reached
	// the threshold, or apperrors.ErrNotFound if none has.
	FirstCrossing(ctx context.Context, repoID uuid.UUID, minStars int) (*models.DiscoverySnapshot, error)
}

type discoverySnapshotRepository struct {
	db *database.DB
}

// NewDiscoverySnapshotRepository creates a discovery snapshot repository.
func NewDiscoverySnapshotRepository(db *database.DB) DiscoverySnapshotRepository {
	return &discoverySnapshotRepository{db: db}
}

func (r *discoverySnapshotRepository) Create(ctx context.Context, snap *models.DiscoverySnapshot) error {
	detail, err := json.Marshal(snap.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot detail: %w", err)
	}

	query := `
		INSERT INTO pulse_discovery_snapshots (repo_id, captured_at, stars, forks, pushed_at, eligible, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		snap.RepoID,
		snap.CapturedAt,
		snap.Stars,
		snap.Forks,
		snap.PushedAt,
		snap.Eligible,
		detail,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("failed to create discovery snapshot: %w", err)
	}
	return nil
}

func (r *discoverySnapshotRepository) ListRecentByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.DiscoverySnapshot, error) {
	query := `
		SELECT id, repo_id, captured_at, stars, forks, pushed_at, eligible, detail
		FROM pulse_discovery_snapshots
		WHERE repo_id = $1
		ORDER BY captured_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.DiscoverySnapshot
	for rows.Next() {
		snap, err := scanDiscoverySnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (r *discoverySnapshotRepository) FirstCrossing(ctx context.Context, repoID uuid.UUID, minStars int) (*models.DiscoverySnapshot, error) {
	query := `
		SELECT id, repo_id, captured_at, stars, forks, pushed_at, eligible, detail
		FROM pulse_discovery_snapshots
		WHERE repo_id = $1 AND stars >= $2
		ORDER BY captured_at ASC
		LIMIT 1`

	snap, err := scanDiscoverySnapshot(r.db.QueryRow(ctx, query, repoID, minStars))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}

func scanDiscoverySnapshot(row pgx.Row) (*models.DiscoverySnapshot, error) {
	var snap models.DiscoverySnapshot
	var detail []byte
	err := row.Scan(
		&snap.ID,
		&snap.RepoID,
		&snap.CapturedAt,
		&snap.Stars,
		&snap.Forks,
		&snap.PushedAt,
		&snap.Eligible,
		&detail,
	)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &snap.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot detail: %w", err)
		}
	}
	return &snap, nil
}
