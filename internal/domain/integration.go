package domain

import "time"

// IntegrationStatus is the lifecycle of an IntegrationAttempt.
type IntegrationStatus string

const (
	IntegrationQueued    IntegrationStatus = "queued"
	IntegrationRunning   IntegrationStatus = "running"
	IntegrationSucceeded IntegrationStatus = "succeeded"
	IntegrationFailed    IntegrationStatus = "failed"
)

// Valid reports whether s is a recognized integration attempt status.
func (s IntegrationStatus) Valid() bool {
	switch s {
	case IntegrationQueued, IntegrationRunning, IntegrationSucceeded, IntegrationFailed:
		return true
	default:
		return false
	}
}

// IntegrationAttempt is a record of an attempted merge/build for a task.
// Supplements the distilled specification with the attempt-tracking
// surface the original system carried. A failed attempt against a
// merge_gate task is evidence for the human gate decision; it never by
// itself transitions task state.
type IntegrationAttempt struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	TaskID        string            `json:"task_id"`
	Status        IntegrationStatus `json:"status"`
	ResultPayload map[string]any    `json:"result_payload,omitempty"`
	CreatedBy     string            `json:"created_by"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
