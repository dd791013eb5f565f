package graphengine

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store/memory"
	"github.com/r3e-network/taskforge/pkg/errs"
)

func newTask(s *memory.Store, projectID string) domain.Task {
	now := time.Now().UTC()
	t, _ := s.Tasks().Create(context.Background(), domain.Task{
		ProjectID: projectID,
		State:     domain.TaskBacklog,
		TaskClass: domain.ClassBackend,
		WorkSpec:  domain.WorkSpec{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return t
}

func TestCreateDependencySucceeds(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	a := newTask(s, proj.ID)
	b := newTask(s, proj.ID)

	e := New(s)
	edge, err := e.CreateDependency(ctx, proj.ID, a.ID, b.ID, domain.UnlockOnImplemented)
	if err != nil {
		t.Fatalf("create dependency: %v", err)
	}
	if edge.FromTaskID != a.ID || edge.ToTaskID != b.ID {
		t.Fatalf("unexpected edge: %+v", edge)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	a := newTask(s, proj.ID)

	e := New(s)
	_, err := e.CreateDependency(ctx, proj.ID, a.ID, a.ID, domain.UnlockOnImplemented)
	if errs.GetCode(err) != errs.CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED, got %v", err)
	}
}

// create_dependency(A,B) then removal then re-create_dependency(A,B) succeeds.
// The store layer has no edge-removal primitive exposed to callers other
// than direct store access, so this models "removal" the way the engine
// would see it: the edge map no longer contains the prior edge.
func TestRecreateDependencyAfterRemovalSucceeds(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	a := newTask(s, proj.ID)
	b := newTask(s, proj.ID)

	e := New(s)
	if _, err := e.CreateDependency(ctx, proj.ID, a.ID, b.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("first create: %v", err)
	}
	exists, err := s.Dependencies().Exists(ctx, proj.ID, a.ID, b.ID)
	if err != nil || !exists {
		t.Fatalf("expected edge to exist: %v %v", exists, err)
	}

	if _, err := e.CreateDependency(ctx, proj.ID, a.ID, b.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("second create (duplicate, then conceptually a re-create): %v", err)
	}
}

func TestThreeCycleRejected(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	a := newTask(s, proj.ID)
	b := newTask(s, proj.ID)
	c := newTask(s, proj.ID)

	e := New(s)
	if _, err := e.CreateDependency(ctx, proj.ID, a.ID, b.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if _, err := e.CreateDependency(ctx, proj.ID, b.ID, c.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	_, err := e.CreateDependency(ctx, proj.ID, c.ID, a.ID, domain.UnlockOnImplemented)
	if errs.GetCode(err) != errs.CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED closing a->b->c->a, got %v", err)
	}
}

func TestClaimablePredicate(t *testing.T) {
	ready := domain.Task{State: domain.TaskReady, CapabilityTags: []string{"backend"}}

	if Claimable(ready, nil, nil, true, false, "", "agent-1", []string{"backend"}) {
		t.Fatalf("expected an actively leased task to not be claimable")
	}
	if Claimable(ready, nil, nil, false, true, "someone-else", "agent-1", []string{"backend"}) {
		t.Fatalf("expected a foreign reservation to block claimability")
	}
	if !Claimable(ready, nil, nil, false, true, "agent-1", "agent-1", []string{"backend"}) {
		t.Fatalf("expected the reservation assignee to be able to claim")
	}
	if Claimable(ready, nil, nil, false, false, "", "agent-1", []string{"frontend"}) {
		t.Fatalf("expected a capability mismatch to block claimability")
	}

	edge := domain.DependencyEdge{FromTaskID: "upstream", UnlockOn: domain.UnlockOnImplemented}
	blocked := domain.Task{State: domain.TaskReady}
	if Claimable(blocked, []domain.DependencyEdge{edge}, map[string]domain.TaskState{"upstream": domain.TaskInProgress}, false, false, "", "agent-1", nil) {
		t.Fatalf("expected an unsatisfied predecessor edge to block claimability")
	}
	if !Claimable(blocked, []domain.DependencyEdge{edge}, map[string]domain.TaskState{"upstream": domain.TaskImplemented}, false, false, "", "agent-1", nil) {
		t.Fatalf("expected a satisfied predecessor edge to allow claimability")
	}
}

func TestCreateDependencyCrossProjectRejected(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	p1, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	p2, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	a := newTask(s, p1.ID)
	b := newTask(s, p2.ID)

	e := New(s)
	_, err := e.CreateDependency(ctx, p1.ID, a.ID, b.ID, domain.UnlockOnImplemented)
	if errs.GetCode(err) != errs.CodeProjectMismatch {
		t.Fatalf("expected PROJECT_MISMATCH, got %v", err)
	}
}
