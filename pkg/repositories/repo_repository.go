// Package repositories implements typed PostgreSQL persistence for the
// pipeline's aggregates. Snapshot tables are append-only; only repos and
// queue entries are mutable current-state projections.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// RepoRepository defines data access for tracked repositories.
type RepoRepository interface {
	// Upsert inserts or updates a repo keyed by its GitHub ID. Mutable
	// descriptive fields are replaced; id and first_discovered_at survive
	// updates. The repo's ID and FirstDiscoveredAt are set on return.
	Upsert(ctx context.Context, repo *models.Repo) error

	// GetByID retrieves a repo by internal ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error)

	// GetByGitHubID retrieves a repo by its external identifier.
	GetByGitHubID(ctx context.Context, githubID int64) (*models.Repo, error)

	// ListEligible returns all currently eligible repos.
	ListEligible(ctx context.Context) ([]*models.Repo, error)

	// ListEligibleGitHubIDs returns the external IDs of the current
	// eligible set, used for sweep-over-sweep delta reporting.
	ListEligibleGitHubIDs(ctx context.Context) ([]int64, error)

	// MarkIneligibleExcept turns eligible off for every repo whose GitHub ID
	// is not in seen. A complete sweep calls this so repos that dropped out
	// of the search results (starred down, archived) leave the eligible set.
	// Returns the number of repos marked ineligible.
	MarkIneligibleExcept(ctx context.Context, seen []int64) (int, error)
}

type repoRepository struct {
	db *database.DB
}

// NewRepoRepository creates a repo repository backed by PostgreSQL.
func NewRepoRepository(db *database.DB) RepoRepository {
	return &repoRepository{db: db}
}

const repoColumns = `id, github_id, owner, name, full_name, language, stars, forks,
	created_at, pushed_at, archived, is_fork, eligible, first_discovered_at, last_seen_at`

func (r *repoRepository) Upsert(ctx context.Context, repo *models.Repo) error {
	now := time.Now()
	repo.LastSeenAt = now

	query := `
		INSERT INTO pulse_repos (github_id, owner, name, full_name, language, stars, forks,
			created_at, pushed_at, archived, is_fork, eligible, first_discovered_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (github_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			language = EXCLUDED.language,
			stars = EXCLUDED.stars,
			forks = EXCLUDED.forks,
			created_at = EXCLUDED.created_at,
			pushed_at = EXCLUDED.pushed_at,
			archived = EXCLUDED.archived,
			is_fork = EXCLUDED.is_fork,
			eligible = EXCLUDED.eligible,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, first_discovered_at`

	var language *string
	if repo.Language != "" {
		language = &repo.Language
	}

	err := r.db.QueryRow(ctx, query,
		repo.GitHubID,
		repo.Owner,
		repo.Name,
		repo.FullName,
		language,
		repo.Stars,
		repo.Forks,
		repo.CreatedAt,
		repo.PushedAt,
		repo.Archived,
		repo.IsFork,
		repo.Eligible,
		now,
	).Scan(&repo.ID, &repo.FirstDiscoveredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert repo %s: %w", repo.FullName, err)
	}
	return nil
}

func (r *repoRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error) {
	query := fmt.Sprintf(`SELECT %s FROM pulse_repos WHERE id = $1`, repoColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *repoRepository) GetByGitHubID(ctx context.Context, githubID int64) (*models.Repo, error) {
	query := fmt.Sprintf(`SELECT %s FROM pulse_repos WHERE github_id = $1`, repoColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, githubID))
}

func (r *repoRepository) ListEligible(ctx context.Context) ([]*models.Repo, error) {
	query := fmt.Sprintf(`SELECT %s FROM pulse_repos WHERE eligible ORDER BY stars DESC`, repoColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible repos: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (r *repoRepository) ListEligibleGitHubIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT github_id FROM pulse_repos WHERE eligible`)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible github ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoRepository) MarkIneligibleExcept(ctx context.Context, seen []int64) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pulse_repos SET eligible = false WHERE eligible AND NOT (github_id = ANY($1))`,
		seen)
	if err != nil {
		return 0, fmt.Errorf("failed to mark unseen repos ineligible: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoRepository) scanOne(row pgx.Row) (*models.Repo, error) {
	repo, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return repo, nil
}

// scanRepo scans one repo row; the column order matches repoColumns.
func scanRepo(row pgx.Row) (*models.Repo, error) {
	var repo models.Repo
	var language *string
	err := row.Scan(
		&repo.ID,
		&repo.GitHubID,
		&repo.Owner,
		&repo.Name,
		&repo.FullName,
		&language,
		&repo.Stars,
		&repo.Forks,
		&repo.CreatedAt,
		&repo.PushedAt,
		&repo.Archived,
		&repo.IsFork,
		&repo.Eligible,
		&repo.FirstDiscoveredAt,
		&repo.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	if language != nil {
		repo.Language = *language
	}
	return &repo, nil
}
