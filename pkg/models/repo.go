package models

import (
	"time"

	"github.com/google/uuid"
)

// Repo is a tracked GitHub repository. It is the mutable "current state"
// projection owned by the discovery pipeline: every sweep upserts it by
// GitHubID. Repos are never deleted, only marked ineligible.
type Repo struct {
	ID       uuid.UUID `json:"id"`
	GitHubID int64     `json:"github_id"`
	Owner    string    `json:"owner"`
	Name     string    `json:"name"`
	FullName string    `json:"full_name"`
	Language string    `json:"language,omitempty"`
	Stars    int       `json:"stars"`
	Forks    int       `json:"forks"`

	CreatedAt time.Time `json:"created_at"` // repository creation on GitHub
	PushedAt  time.Time `json:"pushed_at"`
	Archived  bool      `json:"archived"`
	IsFork    bool      `json:"is_fork"`

	Eligible          bool      `json:"eligible"`
	FirstDiscoveredAt time.Time `json:"first_discovered_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
}
