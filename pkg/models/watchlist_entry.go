package models

import (
	"time"

	"github.com/google/uuid"
)

// WatchlistEntry is one ranked row of a watchlist generation: three
// independent 0-100 track scores plus a short rationale naming the signals
// that drove the dominant track. A generation shares one GeneratedAt
// timestamp and is immutable once written; newer generations supersede,
// never merge.
type WatchlistEntry struct {
	ID          uuid.UUID `json:"id"`
	RepoID      uuid.UUID `json:"repo_id"`
	GeneratedAt time.Time `json:"generated_at"`

	MomentumScore   float64 `json:"momentum_score"`
	DurabilityScore float64 `json:"durability_score"`
	AdoptionScore   float64 `json:"adoption_score"`

	Rationale string `json:"rationale"`

	// Factors holds the per-track factor summaries backing the scores.
	Factors map[string]string `json:"factors"`
}

// ScoredRepo pairs a watchlist entry with its repo for presentation.
type ScoredRepo struct {
	Entry WatchlistEntry `json:"entry"`
	Repo  Repo           `json:"repo"`
}
