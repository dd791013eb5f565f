package leasemanager

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store/memory"
	"github.com/r3e-network/taskforge/pkg/errs"
)

func seedReadyTask(t *testing.T, s *memory.Store, projectID string) domain.Task {
	t.Helper()
	now := time.Now().UTC()
	task, err := s.Tasks().Create(context.Background(), domain.Task{
		ProjectID: projectID,
		State:     domain.TaskReady,
		TaskClass: domain.ClassBackend,
		WorkSpec:  domain.WorkSpec{"objective": "x"},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestClaimFencingCounterStrictlyIncreases(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	task := seedReadyTask(t, s, proj.ID)

	m := New(s)
	now := time.Now().UTC()

	first, err := m.Claim(ctx, proj.ID, task.ID, "a", now)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Lease.FencingCounter != 1 {
		t.Fatalf("expected fencing counter 1, got %d", first.Lease.FencingCounter)
	}

	// release the lease administratively (simulating a transition) and
	// reclaim: the counter must never repeat or go backwards.
	lease := first.Lease
	lease.Status = domain.LeaseReleased
	released := now.Add(time.Second)
	lease.ReleasedAt = &released
	if _, err := s.Leases().Update(ctx, lease); err != nil {
		t.Fatalf("release lease: %v", err)
	}
	task2, err := s.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	task2.State = domain.TaskReady
	if _, err := s.Tasks().Update(ctx, task2); err != nil {
		t.Fatalf("reset task to ready: %v", err)
	}

	second, err := m.Claim(ctx, proj.ID, task.ID, "b", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.Lease.FencingCounter <= first.Lease.FencingCounter {
		t.Fatalf("expected fencing counter to strictly increase, got %d after %d", second.Lease.FencingCounter, first.Lease.FencingCounter)
	}
}

func TestClaimOnAlreadyLeasedTaskFails(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	task := seedReadyTask(t, s, proj.ID)
	m := New(s)
	now := time.Now().UTC()

	if _, err := m.Claim(ctx, proj.ID, task.ID, "a", now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := m.Claim(ctx, proj.ID, task.ID, "b", now)
	if errs.GetCode(err) != errs.CodeLeaseExists {
		t.Fatalf("expected LEASE_EXISTS, got %v", err)
	}
}

func TestClaimReservedTaskByNonAssigneeConflicts(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	task := seedReadyTask(t, s, proj.ID)
	m := New(s)
	now := time.Now().UTC()

	if _, err := m.Assign(ctx, proj.ID, task.ID, "owner", "planner", 3600, now); err != nil {
		t.Fatalf("assign: %v", err)
	}

	_, err := m.Claim(ctx, proj.ID, task.ID, "stranger", now)
	if errs.GetCode(err) != errs.CodeReservationConflict {
		t.Fatalf("expected RESERVATION_CONFLICT, got %v", err)
	}

	result, err := m.Claim(ctx, proj.ID, task.ID, "owner", now)
	if err != nil {
		t.Fatalf("expected assignee claim to succeed: %v", err)
	}
	if result.Task.State != domain.TaskClaimed {
		t.Fatalf("expected claimed, got %s", result.Task.State)
	}
	res, active, err := s.Reservations().GetActiveByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if active {
		t.Fatalf("expected reservation no longer active, got %+v", res)
	}
}

func TestReservationTTLBounds(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	m := New(s)
	now := time.Now().UTC()

	for _, ttl := range []int{domain.MinReservationTTL, domain.MaxReservationTTL} {
		task := seedReadyTask(t, s, proj.ID)
		if _, err := m.Assign(ctx, proj.ID, task.ID, "owner", "planner", ttl, now); err != nil {
			t.Fatalf("ttl %d should be accepted: %v", ttl, err)
		}
	}

	for _, ttl := range []int{domain.MinReservationTTL - 1, domain.MaxReservationTTL + 1} {
		task := seedReadyTask(t, s, proj.ID)
		if _, err := m.Assign(ctx, proj.ID, task.ID, "owner", "planner", ttl, now); err == nil {
			t.Fatalf("ttl %d should be rejected", ttl)
		}
	}
}

func TestHeartbeatIsIdempotent(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	task := seedReadyTask(t, s, proj.ID)
	m := New(s)
	now := time.Now().UTC()

	claim, err := m.Claim(ctx, proj.ID, task.ID, "a", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	first, err := m.Heartbeat(ctx, proj.ID, task.ID, "a", claim.Lease.Token, nil, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	second, err := m.Heartbeat(ctx, proj.ID, task.ID, "a", claim.Lease.Token, nil, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	if !second.Lease.ExpiresAt.After(first.Lease.ExpiresAt) {
		t.Fatalf("expected expiry to extend on repeated heartbeat")
	}
	if second.Lease.FencingCounter != first.Lease.FencingCounter {
		t.Fatalf("heartbeat must not mutate fencing counter")
	}
}

func TestHeartbeatWithInvalidTokenFails(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	proj, _ := s.Projects().Create(ctx, domain.Project{Status: domain.ProjectActive})
	task := seedReadyTask(t, s, proj.ID)
	m := New(s)
	now := time.Now().UTC()

	if _, err := m.Claim(ctx, proj.ID, task.ID, "a", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := m.Heartbeat(ctx, proj.ID, task.ID, "a", "wrong-token", nil, now.Add(time.Minute))
	if errs.GetCode(err) != errs.CodeLeaseInvalid {
		t.Fatalf("expected LEASE_INVALID, got %v", err)
	}
}
