// Package memory implements the internal/store interfaces entirely
// in-process, guarded by a single mutex. It is the "local embedded
// dialect" spec.md's configuration table calls for, used by tests and by
// orchestratord when no database_url is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
)

type txKeyType struct{}

var txKey = txKeyType{}

func withTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey, true)
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey).(bool)
	return v
}

// systemClock returns wall-clock time; the default Clock for production
// use.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Store is the in-memory backend. All maps are guarded by mu; Atomic
// holds mu for the duration of its closure so that every mutation
// observes a consistent snapshot, mirroring the single row-locked
// transaction the relational backend uses.
type Store struct {
	mu    sync.Mutex
	clock store.Clock

	nextSeq int64

	projects      map[string]domain.Project
	phases        map[string]domain.Phase
	milestones    map[string]domain.Milestone
	tasks         map[string]domain.Task
	dependencies  map[string]domain.DependencyEdge
	leases        map[string]domain.Lease
	reservations  map[string]domain.Reservation
	planVersions  map[string]domain.PlanVersion
	changeSets    map[string]domain.PlanChangeSet
	snapshots     map[string]domain.TaskExecutionSnapshot
	gateRules     map[string]domain.GateRule
	gateDecisions map[string]domain.GateDecision
	events        []domain.EventLog
	checkpoints  map[string]domain.MetricsJobCheckpoint
	runs         map[string]domain.MetricsJobRun
	counters     map[string]domain.MetricsStateTransitionCounter
	apiKeys      map[string]domain.ApiKey
	artifacts    map[string]domain.Artifact
	integrations map[string]domain.IntegrationAttempt
}

// New constructs an empty in-memory store. A nil clock defaults to
// time.Now.
func New(clock store.Clock) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{
		clock:         clock,
		projects:      map[string]domain.Project{},
		phases:        map[string]domain.Phase{},
		milestones:    map[string]domain.Milestone{},
		tasks:         map[string]domain.Task{},
		dependencies:  map[string]domain.DependencyEdge{},
		leases:        map[string]domain.Lease{},
		reservations:  map[string]domain.Reservation{},
		planVersions:  map[string]domain.PlanVersion{},
		changeSets:    map[string]domain.PlanChangeSet{},
		snapshots:     map[string]domain.TaskExecutionSnapshot{},
		gateRules:     map[string]domain.GateRule{},
		gateDecisions: map[string]domain.GateDecision{},
		checkpoints:   map[string]domain.MetricsJobCheckpoint{},
		runs:          map[string]domain.MetricsJobRun{},
		counters:      map[string]domain.MetricsStateTransitionCounter{},
		apiKeys:       map[string]domain.ApiKey{},
		artifacts:     map[string]domain.Artifact{},
		integrations:  map[string]domain.IntegrationAttempt{},
	}
}

// Atomic implements store.UnitOfWork by holding the store-wide mutex for
// the duration of fn. Nested Atomic calls (fn itself calling Atomic)
// reuse the outer lock rather than deadlocking.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(withTx(ctx))
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// genSeq returns the next value in a store-wide monotonic sequence, used
// for event log ids.
func (s *Store) genSeq() int64 {
	s.nextSeq++
	return s.nextSeq
}

// newID returns a fresh opaque identifier. Production code uses
// github.com/google/uuid directly; every in-memory Create method falls
// back to this when the caller leaves ID blank.
func newID() string { return uuid.NewString() }

func (s *Store) Projects() store.ProjectStore         { return (*projectStore)(s) }
func (s *Store) Phases() store.PhaseStore             { return (*phaseStore)(s) }
func (s *Store) Milestones() store.MilestoneStore     { return (*milestoneStore)(s) }
func (s *Store) Tasks() store.TaskStore               { return (*taskStore)(s) }
func (s *Store) Dependencies() store.DependencyStore  { return (*dependencyStore)(s) }
func (s *Store) Leases() store.LeaseStore             { return (*leaseStore)(s) }
func (s *Store) Reservations() store.ReservationStore { return (*reservationStore)(s) }
func (s *Store) Plans() store.PlanStore               { return (*planStore)(s) }
func (s *Store) Snapshots() store.SnapshotStore       { return (*snapshotStore)(s) }
func (s *Store) Gates() store.GateStore               { return (*gateStore)(s) }
func (s *Store) Events() store.EventStore             { return (*eventStore)(s) }
func (s *Store) Metrics() store.MetricsStore          { return (*metricsStore)(s) }
func (s *Store) ApiKeys() store.ApiKeyStore           { return (*apiKeyStore)(s) }
func (s *Store) Artifacts() store.ArtifactStore       { return (*artifactStore)(s) }
func (s *Store) Integrations() store.IntegrationStore { return (*integrationStore)(s) }
