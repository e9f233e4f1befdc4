package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority tier scores. The queue assigns each eligible repository the
// maximum score among the rules that match it.
const (
	PriorityNewlyEligible = 10
	PriorityHighMomentum  = 8
	PriorityActivitySpike = 7
	PriorityStale         = 5
	PriorityBaseline      = 3
)

// QueueEntry is the single active analysis-queue row for an eligible
// repository (idempotent upsert keyed by RepoID). Entries of repositories
// that turn ineligible are deleted, not archived.
type QueueEntry struct {
	ID       uuid.UUID `json:"id"`
	RepoID   uuid.UUID `json:"repo_id"`
	Priority int       `json:"priority"`
	Reason   string    `json:"reason"` // name of the matched rule

	EnqueuedAt     time.Time  `json:"enqueued_at"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"` // nil until first deep analysis
}

// QueuedRepo pairs a queue entry with its repository, in pull order.
type QueuedRepo struct {
	Entry QueueEntry `json:"entry"`
	Repo  Repo       `json:"repo"`
}

// QueueSummary reports the state of the analysis queue. OldestAnalyzedAt
// makes the coverage guarantee observable: it is the last-analysis time of
// the entry that has waited longest, nil when nothing was ever analyzed.
type QueueSummary struct {
	Total            int         `json:"total"`
	ByPriority       map[int]int `json:"by_priority"`
	NeverAnalyzed    int         `json:"never_analyzed"`
	OldestAnalyzedAt *time.Time  `json:"oldest_analyzed_at,omitempty"`
}
