package domain

// UnlockOn names the predecessor state that satisfies a DependencyEdge.
type UnlockOn string

const (
	UnlockOnImplemented UnlockOn = "implemented"
	UnlockOnIntegrated  UnlockOn = "integrated"
)

// Valid reports whether u is a recognized unlock condition.
func (u UnlockOn) Valid() bool {
	return u == UnlockOnImplemented || u == UnlockOnIntegrated
}

// DependencyEdge records that ToTaskID cannot become ready until
// FromTaskID reaches the state named by UnlockOn.
type DependencyEdge struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	FromTaskID string   `json:"from_task_id"`
	ToTaskID   string   `json:"to_task_id"`
	UnlockOn   UnlockOn `json:"unlock_on"`
}

// Satisfied reports whether predecessorState satisfies this edge's unlock
// condition.
func (e DependencyEdge) Satisfied(predecessorState TaskState) bool {
	if e.UnlockOn == UnlockOnImplemented {
		return predecessorState == TaskImplemented || predecessorState == TaskIntegrated
	}
	return predecessorState == TaskIntegrated
}
