package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// WatchlistRepository defines data access for scored watchlist generations.
// Entries are grouped by their generated_at timestamp; the full set written
// by one scoring run shares a single timestamp.
type WatchlistRepository interface {
	// CreateGeneration inserts all entries of one scoring run atomically,
	// stamping them with the same generated_at.
	CreateGeneration(ctx context.Context, generatedAt time.Time, entries []*models.WatchlistEntry) error

	// LatestGeneration returns the entries of the most recent run together
	// with their repos, ordered by momentum score descending.
	LatestGeneration(ctx context.Context) ([]*models.ScoredRepo, error)
}

type watchlistRepository struct {
	db *database.DB
}

// NewWatchlistRepository creates a watchlist repository backed by PostgreSQL.
func NewWatchlistRepository(db *database.DB) WatchlistRepository {
	return &watchlistRepository{db: db}
}

func (r *watchlistRepository) CreateGeneration(ctx context.Context, generatedAt time.Time, entries []*models.WatchlistEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin watchlist transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO pulse_watchlist_entries
			(id, repo_id, generated_at, momentum_score, durability_score, adoption_score, rationale, factors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.GeneratedAt = generatedAt

		factorsJSON, err := json.Marshal(entry.Factors)
		if err != nil {
			return fmt.Errorf("failed to marshal watchlist factors: %w", err)
		}

		_, err = tx.Exec(ctx, query,
			entry.ID,
			entry.RepoID,
			entry.GeneratedAt,
			entry.MomentumScore,
			entry.DurabilityScore,
			entry.AdoptionScore,
			entry.Rationale,
			factorsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert watchlist entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit watchlist generation: %w", err)
	}
	return nil
}

func (r *watchlistRepository) LatestGeneration(ctx context.Context) ([]*models.ScoredRepo, error) {
	query := fmt.Sprintf(`
		SELECT w.id, w.repo_id, w.generated_at, w.momentum_score, w.durability_score,
			w.adoption_score, w.rationale, w.factors, %s
		FROM pulse_watchlist_entries w
		JOIN pulse_repos p ON p.id = w.repo_id
		WHERE w.generated_at = (SELECT MAX(generated_at) FROM pulse_watchlist_entries)
		ORDER BY w.momentum_score DESC`, prefixedRepoColumns("p"))

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist generation: %w", err)
	}
	defer rows.Close()

	var scored []*models.ScoredRepo
	for rows.Next() {
		var sr models.ScoredRepo
		var factorsJSON []byte
		var language *string
		err := rows.Scan(
			&sr.Entry.ID,
			&sr.Entry.RepoID,
			&sr.Entry.GeneratedAt,
			&sr.Entry.MomentumScore,
			&sr.Entry.DurabilityScore,
			&sr.Entry.AdoptionScore,
			&sr.Entry.Rationale,
			&factorsJSON,
			&sr.Repo.ID,
			&sr.Repo.GitHubID,
			&sr.Repo.Owner,
			&sr.Repo.Name,
			&sr.Repo.FullName,
			&language,
			&sr.Repo.Stars,
			&sr.Repo.Forks,
			&sr.Repo.CreatedAt,
			&sr.Repo.PushedAt,
			&sr.Repo.Archived,
			&sr.Repo.IsFork,
			&sr.Repo.Eligible,
			&sr.Repo.FirstDiscoveredAt,
			&sr.Repo.LastSeenAt,
		)
		if err != nil {
			return nil, err
		}
		if len(factorsJSON) > 0 {
			if err := json.Unmarshal(factorsJSON, &sr.Entry.Factors); err != nil {
				return nil, fmt.Errorf("failed to decode watchlist factors: %w", err)
			}
		}
		if language != nil {
			sr.Repo.Language = *language
		}
		scored = append(scored, &sr)
	}
	return scored, rows.Err()
}
