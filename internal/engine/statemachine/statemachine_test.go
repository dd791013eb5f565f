package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store/memory"
	"github.com/r3e-network/taskforge/pkg/errs"
)

func seedTask(t *testing.T, s *memory.Store, state domain.TaskState, class domain.TaskClass) domain.Task {
	t.Helper()
	now := time.Now().UTC()
	task, err := s.Tasks().Create(context.Background(), domain.Task{
		ProjectID: "p1",
		State:     state,
		TaskClass: class,
		WorkSpec:  domain.WorkSpec{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestDisallowedTransitionRejected(t *testing.T) {
	s := memory.New(nil)
	task := seedTask(t, s, domain.TaskBacklog, domain.ClassBackend)
	e := New(s)

	_, err := e.Transition(context.Background(), Request{
		ProjectID: "p1",
		TaskID:    task.ID,
		ToState:   domain.TaskIntegrated,
		ActorID:   "a",
		Now:       time.Now().UTC(),
	})
	if errs.GetCode(err) != errs.CodeInvalidStateTransition {
		t.Fatalf("expected INVALID_STATE_TRANSITION, got %v", err)
	}
}

func TestForcedTransitionBypassesAdjacencyTable(t *testing.T) {
	s := memory.New(nil)
	task := seedTask(t, s, domain.TaskBacklog, domain.ClassBackend)
	e := New(s)

	result, err := e.Transition(context.Background(), Request{
		ProjectID: "p1",
		TaskID:    task.ID,
		ToState:   domain.TaskCancelled,
		ActorID:   "admin",
		Force:     true,
		Now:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("forced transition should bypass the adjacency table: %v", err)
	}
	if result.Task.State != domain.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", result.Task.State)
	}
}

func TestTerminalStateAdmitsNoFurtherTransitions(t *testing.T) {
	s := memory.New(nil)
	task := seedTask(t, s, domain.TaskIntegrated, domain.ClassBackend)
	e := New(s)

	_, err := e.Transition(context.Background(), Request{
		ProjectID: "p1",
		TaskID:    task.ID,
		ToState:   domain.TaskReady,
		ActorID:   "a",
		Now:       time.Now().UTC(),
	})
	if errs.GetCode(err) != errs.CodeStateNotAllowed {
		t.Fatalf("expected STATE_NOT_ALLOWED, got %v", err)
	}
}

func TestTransitionAcrossProjectsRejected(t *testing.T) {
	s := memory.New(nil)
	task := seedTask(t, s, domain.TaskBacklog, domain.ClassBackend)
	e := New(s)

	_, err := e.Transition(context.Background(), Request{
		ProjectID: "some-other-project",
		TaskID:    task.ID,
		ToState:   domain.TaskReady,
		ActorID:   "a",
		Now:       time.Now().UTC(),
	})
	if errs.GetCode(err) != errs.CodeProjectMismatch {
		t.Fatalf("expected PROJECT_MISMATCH, got %v", err)
	}
}

func TestInProgressToBlockedReleasesActiveLease(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	task := seedTask(t, s, domain.TaskInProgress, domain.ClassBackend)
	now := time.Now().UTC()
	lease, err := s.Leases().Create(ctx, domain.Lease{
		ProjectID:      "p1",
		TaskID:         task.ID,
		AgentID:        "a",
		Token:          "tok",
		Status:         domain.LeaseActive,
		ExpiresAt:      now.Add(time.Hour),
		HeartbeatAt:    now,
		FencingCounter: 1,
		CreatedAt:      now,
	})
	if err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	e := New(s)
	result, err := e.Transition(ctx, Request{
		ProjectID: "p1",
		TaskID:    task.ID,
		ToState:   domain.TaskBlocked,
		ActorID:   "a",
		Now:       now,
	})
	if err != nil {
		t.Fatalf("transition to blocked: %v", err)
	}
	if result.ReleasedLeaseID != lease.ID {
		t.Fatalf("expected lease %s released, got %q", lease.ID, result.ReleasedLeaseID)
	}
	_, stillActive, err := s.Leases().GetActiveByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get active lease: %v", err)
	}
	if stillActive {
		t.Fatalf("expected no active lease after release")
	}
}
