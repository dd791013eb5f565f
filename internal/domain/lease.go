package domain

import "time"

// LeaseStatus is the lifecycle of a Lease.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseExpired  LeaseStatus = "expired"
	LeaseReleased LeaseStatus = "released"
	LeaseConsumed LeaseStatus = "consumed"
)

// Lease grants an agent exclusive execution rights over a task. At most
// one Lease is Active per task at any time.
type Lease struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	TaskID         string      `json:"task_id"`
	AgentID        string      `json:"agent_id"`
	Token          string      `json:"-"`
	Status         LeaseStatus `json:"status"`
	ExpiresAt      time.Time   `json:"expires_at"`
	HeartbeatAt    time.Time   `json:"heartbeat_at"`
	FencingCounter int64       `json:"fencing_counter"`
	CreatedAt      time.Time   `json:"created_at"`
	ReleasedAt     *time.Time  `json:"released_at,omitempty"`
}

// Expired reports whether the lease's wall-clock deadline has passed as of
// now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
