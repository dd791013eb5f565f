package domain

import "time"

// PolicyTrigger names why a policy-emitted gate task was synthesized.
type PolicyTrigger string

const (
	TriggerImplementedBacklog  PolicyTrigger = "implemented_backlog"
	TriggerRiskOverlap         PolicyTrigger = "risk_overlap"
	TriggerImplementedAgeSLA   PolicyTrigger = "implemented_age_sla"
	TriggerMilestoneCompletion PolicyTrigger = "milestone_completion"
)

// GatePolicy configures policy-driven gate task emission (§4.5).
type GatePolicy struct {
	ImplementedBacklogThreshold int         `json:"implemented_backlog_threshold"`
	RiskThreshold               int         `json:"risk_threshold"`
	ImplementedAgeHours         int         `json:"implemented_age_hours"`
	RiskTaskClasses             []TaskClass `json:"risk_task_classes"`
}

// GateRule declares the evidence and reviewer-role requirements for a
// scope (a task or a phase).
type GateRule struct {
	ID                    string    `json:"id"`
	ProjectID             string    `json:"project_id"`
	Name                  string    `json:"name"`
	ScopeTaskID           *string   `json:"scope_task_id,omitempty"`
	ScopePhaseID          *string   `json:"scope_phase_id,omitempty"`
	RequiredEvidence      []string  `json:"required_evidence"`
	RequiredReviewerRoles []string  `json:"required_reviewer_roles"`
	CreatedBy             string    `json:"created_by"`
	CreatedAt             time.Time `json:"created_at"`
}

// GateOutcome is the verdict recorded by a GateDecision.
type GateOutcome string

const (
	GateApproved         GateOutcome = "approved"
	GateRejected         GateOutcome = "rejected"
	GateApprovedWithRisk GateOutcome = "approved_with_risk"
)

// Valid reports whether o is a recognized gate outcome.
func (o GateOutcome) Valid() bool {
	return o == GateApproved || o == GateRejected || o == GateApprovedWithRisk
}

// Passing reports whether o satisfies the "→ integrated" gate
// precondition.
func (o GateOutcome) Passing() bool {
	return o == GateApproved || o == GateApprovedWithRisk
}

// GateDecision records a human (or service) verdict against exactly one of
// TaskID or PhaseID.
type GateDecision struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	GateRuleID *string     `json:"gate_rule_id,omitempty"`
	TaskID     *string     `json:"task_id,omitempty"`
	PhaseID    *string     `json:"phase_id,omitempty"`
	Outcome    GateOutcome `json:"outcome"`
	Notes      string      `json:"notes,omitempty"`
	DecidedBy  string      `json:"decided_by"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CandidateReadiness summarizes how many of a gate's candidate tasks are
// ready to be reviewed.
type CandidateReadiness struct {
	Status          string `json:"status"` // "ready" | "blocked"
	ReadyCandidates int    `json:"ready_candidates"`
	TotalCandidates int    `json:"total_candidates"`
}
