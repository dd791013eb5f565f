package domain

import "time"

// TaskState is a node in the task lifecycle state machine (see
// internal/engine/statemachine).
type TaskState string

const (
	TaskBacklog     TaskState = "backlog"
	TaskReady       TaskState = "ready"
	TaskReserved    TaskState = "reserved"
	TaskClaimed     TaskState = "claimed"
	TaskInProgress  TaskState = "in_progress"
	TaskImplemented TaskState = "implemented"
	TaskIntegrated  TaskState = "integrated"
	TaskConflict    TaskState = "conflict"
	TaskBlocked     TaskState = "blocked"
	TaskAbandoned   TaskState = "abandoned"
	TaskCancelled   TaskState = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskIntegrated, TaskAbandoned, TaskCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskBacklog, TaskReady, TaskReserved, TaskClaimed, TaskInProgress,
		TaskImplemented, TaskIntegrated, TaskConflict, TaskBlocked,
		TaskAbandoned, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskClass groups tasks for gate enforcement and capability routing.
type TaskClass string

const (
	ClassArchitecture TaskClass = "architecture"
	ClassDBSchema     TaskClass = "db_schema"
	ClassSecurity     TaskClass = "security"
	ClassCrossCutting TaskClass = "cross_cutting"
	ClassReviewGate   TaskClass = "review_gate"
	ClassMergeGate    TaskClass = "merge_gate"
	ClassFrontend     TaskClass = "frontend"
	ClassBackend      TaskClass = "backend"
	ClassCRUD         TaskClass = "crud"
	ClassOther        TaskClass = "other"
)

// IsGateClass reports whether a task of this class requires a GateDecision
// before it may transition to TaskIntegrated.
func (c TaskClass) IsGateClass() bool {
	return c == ClassReviewGate || c == ClassMergeGate
}

// WorkSpec is the structured description of what a task asks an agent to
// do. Its shape is intentionally open: callers define their own
// conventions for objective/acceptance_criteria/etc.
type WorkSpec map[string]any

// Task is the unit of work agents claim, execute, and advance through
// review to integration.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	PhaseID     string    `json:"phase_id"`
	MilestoneID string    `json:"milestone_id"`
	Title       string    `json:"title"`
	State       TaskState `json:"state"`
	Priority    int       `json:"priority"`
	WorkSpec    WorkSpec  `json:"work_spec"`
	TaskClass   TaskClass `json:"task_class"`

	CapabilityTags []string `json:"capability_tags"`
	ExclusivePaths []string `json:"exclusive_paths"`
	SharedPaths    []string `json:"shared_paths"`

	IntroducedInPlanVersion *int64 `json:"introduced_in_plan_version,omitempty"`
	DeprecatedInPlanVersion *int64 `json:"deprecated_in_plan_version,omitempty"`

	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapability reports whether the task's capability filter admits an
// agent offering the given capability set, per the readiness predicate
// (every task with an empty tag set bypasses the filter).
func (t Task) HasCapability(offered []string) bool {
	if len(t.CapabilityTags) == 0 {
		return true
	}
	offeredSet := make(map[string]struct{}, len(offered))
	for _, c := range offered {
		offeredSet[c] = struct{}{}
	}
	for _, want := range t.CapabilityTags {
		if _, ok := offeredSet[want]; ok {
			return true
		}
	}
	return false
}
