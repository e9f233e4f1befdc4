package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osspulse/pulse-engine/pkg/database"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// QueueRepository defines data access for the analysis priority queue.
// Each eligible repo has at most one entry, keyed by repo_id.
type QueueRepository interface {
	// Upsert inserts or reprioritizes an entry. enqueued_at and
	// last_analyzed_at survive reprioritization.
	Upsert(ctx context.Context, entry *models.QueueEntry) error

	// DeleteIneligible removes entries whose repo is no longer eligible and
	// returns how many were removed.
	DeleteIneligible(ctx context.Context) (int, error)

	// Pull returns up to n entries with their repos in priority order
	// (highest priority first, the longest-unanalyzed first within a tier,
	// never-analyzed ahead of all). Pull does not mutate the queue.
	Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error)

	// MarkAnalyzed records the completion of one deep analysis.
	MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error

	// Summary reports per-tier counts and the oldest last-analysis time.
	Summary(ctx context.Context) (*models.QueueSummary, error)

	// LastAnalyzedTimes returns last_analyzed_at per queued repo. Repos
	// without an entry yet are simply absent from the map.
	LastAnalyzedTimes(ctx context.Context) (map[uuid.UUID]*time.Time, error)
}

type queueRepository struct {
	db *database.DB
}

// NewQueueRepository creates a queue repository backed by PostgreSQL.
func NewQueueRepository(db *database.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Upsert(ctx context.Context, entry *models.QueueEntry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	query := `
		INSERT INTO pulse_queue_entries (repo_id, priority, reason, enqueued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			reason = EXCLUDED.reason
		RETURNING id, enqueued_at, last_analyzed_at`

	err := r.db.QueryRow(ctx, query,
		entry.RepoID,
		entry.Priority,
		entry.Reason,
		entry.EnqueuedAt,
	).Scan(&entry.ID, &entry.EnqueuedAt, &entry.LastAnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert queue entry: %w", err)
	}
	return nil
}

func (r *queueRepository) DeleteIneligible(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM pulse_queue_entries q
		USING pulse_repos p
		WHERE q.repo_id = p.id AND NOT p.eligible`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ineligible queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *queueRepository) Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error) {
	query := fmt.Sprintf(`
		SELECT q.id, q.repo_id, q.priority, q.reason, q.enqueued_at, q.last_analyzed_at, %s
		FROM pulse_queue_entries q
		JOIN pulse_repos p ON p.id = q.repo_id
		ORDER BY q.priority DESC, q.last_analyzed_at ASC NULLS FIRST, q.enqueued_at ASC
		LIMIT $1`, prefixedRepoColumns("p"))

	rows, err := r.db.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to pull queue entries: %w", err)
	}
	defer rows.Close()

	var pulled []*models.QueuedRepo
	for rows.Next() {
		var qr models.QueuedRepo
		var language *string
		err := rows.Scan(
			&qr.Entry.ID,
			&qr.Entry.RepoID,
			&qr.Entry.Priority,
			&qr.Entry.Reason,
			&qr.Entry.EnqueuedAt,
			&qr.Entry.LastAnalyzedAt,
			&qr.Repo.ID,
			&qr.Repo.GitHubID,
			&qr.Repo.Owner,
			&qr.Repo.Name,
			&qr.Repo.FullName,
			&language,
			&qr.Repo.Stars,
			&qr.Repo.Forks,
			&qr.Repo.CreatedAt,
			&qr.Repo.PushedAt,
			&qr.Repo.Archived,
			&qr.Repo.IsFork,
			&qr.Repo.Eligible,
			&qr.Repo.FirstDiscoveredAt,
			&qr.Repo.LastSeenAt,
		)
		if err != nil {
			return nil, err
		}
		if language != nil {
			qr.Repo.Language = *language
		}
		pulled = append(pulled, &qr)
	}
	return pulled, rows.Err()
}

func (r *queueRepository) MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pulse_queue_entries SET last_analyzed_at = $2 WHERE repo_id = $1`,
		repoID, at)
	if err != nil {
		return fmt.Errorf("failed to mark repo analyzed: %w", err)
	}
	return nil
}

func (r *queueRepository) Summary(ctx context.Context) (*models.QueueSummary, error) {
	summary := &models.QueueSummary{ByPriority: make(map[int]int)}

	rows, err := r.db.Query(ctx, `
		SELECT priority, COUNT(*), COUNT(*) FILTER (WHERE last_analyzed_at IS NULL)
		FROM pulse_queue_entries
		GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize queue: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var priority, count, neverAnalyzed int
		if err := rows.Scan(&priority, &count, &neverAnalyzed); err != nil {
			return nil, err
		}
		summary.ByPriority[priority] = count
		summary.Total += count
		summary.NeverAnalyzed += neverAnalyzed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		`SELECT MIN(last_analyzed_at) FROM pulse_queue_entries`).Scan(&summary.OldestAnalyzedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read oldest analysis time: %w", err)
	}
	return summary, nil
}

func (r *queueRepository) LastAnalyzedTimes(ctx context.Context) (map[uuid.UUID]*time.Time, error) {
	rows, err := r.db.Query(ctx, `SELECT repo_id, last_analyzed_at FROM pulse_queue_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to read last analysis times: %w", err)
	}
	defer rows.Close()

	times := make(map[uuid.UUID]*time.Time)
	for rows.Next() {
		var repoID uuid.UUID
		var at *time.Time
		if err := rows.Scan(&repoID, &at); err != nil {
			return nil, err
		}
		times[repoID] = at
	}
	return times, rows.Err()
}

// prefixedRepoColumns renders repoColumns qualified with a table alias.
func prefixedRepoColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.github_id, %[1]s.owner, %[1]s.name, %[1]s.full_name,
		%[1]s.language, %[1]s.stars, %[1]s.forks, %[1]s.created_at, %[1]s.pushed_at,
		%[1]s.archived, %[1]s.is_fork, %[1]s.eligible, %[1]s.first_discovered_at, %[1]s.last_seen_at`, alias)
}
