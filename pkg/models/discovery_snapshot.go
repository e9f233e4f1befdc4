package models

import (
	"time"

	"github.com/google/uuid"
)

// DiscoverySnapshot is an immutable point-in-time capture of the cheap
// metrics used for one eligibility decision. Snapshots are created only by
// the discovery sweep and never mutated or deleted.
type DiscoverySnapshot struct {
	ID         uuid.UUID `json:"id"`
	RepoID     uuid.UUID `json:"repo_id"`
	CapturedAt time.Time `json:"captured_at"`

	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`
	PushedAt time.Time `json:"pushed_at"`
	Eligible bool      `json:"eligible"`

	// Detail holds the rest of the search payload used for the decision
	// (description, topics, license, open issue count).
	Detail map[string]any `json:"detail"`
}
