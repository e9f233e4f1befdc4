package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies one pipeline stage.
type JobType string

const (
	JobTypeDiscovery    JobType = "discovery"
	JobTypeAnalysis     JobType = "analysis"
	JobTypeQueueRefresh JobType = "queue_refresh"
	JobTypeWatchlist    JobType = "watchlist"
)

// JobStatus is the lifecycle state of a run.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusAborted means the run stopped early (quota floor, budget,
	// cancellation) but its partial results stand.
	JobStatusAborted JobStatus = "aborted"
	JobStatusFailed  JobStatus = "failed"
)

// JobRun records one execution of a pipeline stage as an auditable unit.
// A run is created with status running and sealed exactly once; sealed runs
// are immutable.
type JobRun struct {
	ID         uuid.UUID  `json:"id"`
	JobType    JobType    `json:"job_type"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     JobStatus  `json:"status"`
	CallsUsed  int        `json:"calls_used"`

	// Stats holds stage-specific counters, serialized as JSONB.
	Stats        map[string]any `json:"stats"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Open reports whether the run has not been sealed yet.
func (r *JobRun) Open() bool { return r.Status == JobStatusRunning }
