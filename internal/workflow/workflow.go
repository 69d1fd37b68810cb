// Package workflow runs named background jobs on behalf of agents. The
// Dispatcher port is all the core sees; the in-process engine behind it
// keeps a bounded queue and optional cron schedules. Dispatch never blocks
// an agent's writer.
package workflow

import (
	"encoding/json"
	"time"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Well-known workflow names.
const (
	NameReorder         = "reorder-workflow"
	NameForecastRefresh = "forecast-refresh"
)

// Job is one dispatched workflow instance.
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Dispatcher is the WorkflowDispatcher port. A nil Dispatcher is valid:
// callers treat it as "workflows disabled" and skip dispatch.
type Dispatcher interface {
	// Create enqueues a job and returns its ID without waiting for it to run.
	Create(name string, payload json.RawMessage) (string, error)
	// Get reports the current status of a job, or nil if unknown.
	Get(id string) *Job
	// Cancel marks a queued job cancelled. Running jobs finish.
	Cancel(id string) bool
}
