// Package store defines the persistence interfaces the orchestrator core
// depends on, and the transactional-unit-of-work abstraction that
// satisfies the "one transaction, fixed lock order" rule. Two backends
// implement it: internal/store/memory (the local embedded dialect) and
// internal/store/postgres (the relational backend).
package store

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
)

// Clock supplies monotonic UTC timestamps, matching C1's responsibility.
// A real clock is time.Now; tests substitute a fixed or steppable clock.
type Clock interface {
	Now() time.Time
}

// UnitOfWork runs fn inside a single database transaction. Row locks
// taken inside fn follow the fixed order project -> task ->
// lease/reservation -> event_log (§5). fn's context carries the active
// transaction; all Store methods called with that context participate in
// the same transaction. A panic or returned error rolls the transaction
// back; a nil return commits.
type UnitOfWork interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store aggregates every per-entity store interface plus the unit of
// work. Both backends implement Store in full.
type Store interface {
	UnitOfWork

	Projects() ProjectStore
	Phases() PhaseStore
	Milestones() MilestoneStore
	Tasks() TaskStore
	Dependencies() DependencyStore
	Leases() LeaseStore
	Reservations() ReservationStore
	Plans() PlanStore
	Snapshots() SnapshotStore
	Gates() GateStore
	Events() EventStore
	Metrics() MetricsStore
	ApiKeys() ApiKeyStore
	Artifacts() ArtifactStore
	Integrations() IntegrationStore
}

// ProjectStore persists Project records.
type ProjectStore interface {
	Create(ctx context.Context, p domain.Project) (domain.Project, error)
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Update(ctx context.Context, p domain.Project) (domain.Project, error)
}

// PhaseStore persists Phase records.
type PhaseStore interface {
	Create(ctx context.Context, p domain.Phase) (domain.Phase, error)
	Get(ctx context.Context, id string) (domain.Phase, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Phase, error)
	SequenceTaken(ctx context.Context, projectID string, sequence int) (bool, error)
}

// MilestoneStore persists Milestone records.
type MilestoneStore interface {
	Create(ctx context.Context, m domain.Milestone) (domain.Milestone, error)
	Get(ctx context.Context, id string) (domain.Milestone, error)
	ListByPhase(ctx context.Context, phaseID string) ([]domain.Milestone, error)
	SequenceTaken(ctx context.Context, phaseID string, sequence int) (bool, error)
}

// TaskStore persists Task records. LockForUpdate must be used by every
// mutating operation (claim, assign, transition, heartbeat,
// apply_changeset) to take the row lock required by §5 before reading
// current state.
type TaskStore interface {
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	LockForUpdate(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) (domain.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.Task, error)
	ListReady(ctx context.Context, projectID string) ([]domain.Task, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Task, error)
}

// DependencyStore persists DependencyEdge records.
type DependencyStore interface {
	Create(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.DependencyEdge, error)
	ListPredecessors(ctx context.Context, taskID string) ([]domain.DependencyEdge, error)
	Exists(ctx context.Context, projectID, from, to string) (bool, error)
}

// LeaseStore persists Lease records.
type LeaseStore interface {
	Create(ctx context.Context, l domain.Lease) (domain.Lease, error)
	Update(ctx context.Context, l domain.Lease) (domain.Lease, error)
	GetActiveByTask(ctx context.Context, taskID string) (domain.Lease, bool, error)
	GetByTaskAgentToken(ctx context.Context, taskID, agentID, token string) (domain.Lease, bool, error)
	LastFencingCounter(ctx context.Context, taskID string) (int64, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error)
}

// ReservationStore persists Reservation records.
type ReservationStore interface {
	Create(ctx context.Context, r domain.Reservation) (domain.Reservation, error)
	Update(ctx context.Context, r domain.Reservation) (domain.Reservation, error)
	GetActiveByTask(ctx context.Context, taskID string) (domain.Reservation, bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

// PlanStore persists PlanVersion and PlanChangeSet records.
type PlanStore interface {
	CurrentVersion(ctx context.Context, projectID string) (int64, error)
	CreateVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error)

	CreateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error)
	GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error)
	UpdateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error)
}

// SnapshotStore persists TaskExecutionSnapshot records.
type SnapshotStore interface {
	Create(ctx context.Context, s domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error)
	GetByLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, error)
}

// GateStore persists GateRule and GateDecision records.
type GateStore interface {
	CreateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error)
	GetRule(ctx context.Context, id string) (domain.GateRule, error)
	ListRulesByProject(ctx context.Context, projectID string) ([]domain.GateRule, error)

	CreateDecision(ctx context.Context, d domain.GateDecision) (domain.GateDecision, error)
	ListDecisionsByTask(ctx context.Context, taskID string) ([]domain.GateDecision, error)
	ListDecisionsByPhase(ctx context.Context, phaseID string) ([]domain.GateDecision, error)
	ListDecisions(ctx context.Context, projectID string) ([]domain.GateDecision, error)

	// OpenGateExists supports idempotent policy emission: true if an open
	// (non-terminal) gate task for this trigger+scope already exists.
	OpenGateExists(ctx context.Context, projectID string, trigger domain.PolicyTrigger, scopeKey string) (bool, error)
}

// EventStore appends and replays the project event log.
type EventStore interface {
	Append(ctx context.Context, e domain.EventLog) (domain.EventLog, error)
	ListFrom(ctx context.Context, projectID string, entityType string, eventType domain.EventType, fromID int64, limit int) ([]domain.EventLog, error)
	CountByType(ctx context.Context, projectID string, eventType domain.EventType) (int64, error)
}

// MetricsStore persists the materializer's checkpoints, runs, and derived
// counters.
type MetricsStore interface {
	GetCheckpoint(ctx context.Context, projectID string, mode domain.MetricsMode) (domain.MetricsJobCheckpoint, bool, error)
	PutCheckpoint(ctx context.Context, c domain.MetricsJobCheckpoint) error

	GetRunByIdempotencyKey(ctx context.Context, projectID, key string) (domain.MetricsJobRun, bool, error)
	CreateRun(ctx context.Context, r domain.MetricsJobRun) (domain.MetricsJobRun, error)
	GetRun(ctx context.Context, id string) (domain.MetricsJobRun, error)

	UpsertCounter(ctx context.Context, projectID string, state domain.TaskState, lastEventID int64, delta int64) (domain.MetricsStateTransitionCounter, error)
	ListCounters(ctx context.Context, projectID string) ([]domain.MetricsStateTransitionCounter, error)
	DeleteCounters(ctx context.Context, projectID string) error
}

// ApiKeyStore persists ApiKey records.
type ApiKeyStore interface {
	Create(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error)
	GetByHash(ctx context.Context, hash string) (domain.ApiKey, bool, error)
	Get(ctx context.Context, id string) (domain.ApiKey, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.ApiKey, error)
	Update(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error)
}

// ArtifactStore persists Artifact records.
type ArtifactStore interface {
	Create(ctx context.Context, a domain.Artifact) (domain.Artifact, error)
	ListByTask(ctx context.Context, taskID string) ([]domain.Artifact, error)
}

// IntegrationStore persists IntegrationAttempt records.
type IntegrationStore interface {
	Create(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error)
	Get(ctx context.Context, id string) (domain.IntegrationAttempt, error)
	Update(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error)
	ListByTask(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error)
}
