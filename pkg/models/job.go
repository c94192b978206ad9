package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusPartial   = "partial"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ActiveJobStatuses are the non-terminal statuses counted against a tenant's
// concurrent job cap.
var ActiveJobStatuses = []string{JobStatusQueued, JobStatusRunning}

// IsTerminalJobStatus reports whether no further transition may leave status.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Item is one named input of a batch. Hint is an optional website or context.
type Item struct {
	Name    string            `json:"name"`
	Hint    string            `json:"hint,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// Job tracks one batch of items. The API returns the job on POST /api/v1/jobs;
// the client polls GET /api/v1/jobs/{job_id} until status is terminal.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id"       json:"tenant_id"`
	Name           string     `db:"name"            json:"name"`
	Status         string     `db:"status"          json:"status"`
	Items          []Item     `db:"items"           json:"items,omitempty"`
	TotalItems     int        `db:"total_items"     json:"total_items"`
	CompletedItems int        `db:"completed_items" json:"completed_items"`
	FailedItems    int        `db:"failed_items"    json:"failed_items"`
	ProgressPct    float64    `db:"progress_pct"    json:"progress_pct"`
	CreditsUsed    int        `db:"credits_used"    json:"credits_used"`
	RunID          *string    `db:"run_id"          json:"run_id,omitempty"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	StartedAt      *time.Time `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
}

// IsTerminal reports whether the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

// JobHealth is an operational snapshot of job states.
type JobHealth struct {
	Queued       int `json:"queued"`
	Running      int `json:"running"`
	Stuck        int `json:"stuck"`
	Failed24h    int `json:"failed_24h"`
	Completed24h int `json:"completed_24h"`
}
