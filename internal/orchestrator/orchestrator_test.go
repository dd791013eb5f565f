package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/engine/statemachine"
	"github.com/r3e-network/taskforge/internal/store/memory"
	"github.com/r3e-network/taskforge/pkg/errs"
)

func newApp() *Application {
	return New(memory.New(nil), nil)
}

func transitionReq(projectID, taskID string, to domain.TaskState, now time.Time) statemachine.Request {
	return statemachine.Request{ProjectID: projectID, TaskID: taskID, ToState: to, ActorID: "planner", Now: now}
}

// seedProject creates project P, phase P1 (seq 0), and milestone P1.M1
// (seq 0), returning their ids.
func seedProject(t *testing.T, ctx context.Context, app *Application, now time.Time) (projectID, phaseID, milestoneID string) {
	t.Helper()
	proj, err := app.CreateProject(ctx, "agents-fleet", now)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	phase, err := app.CreatePhase(ctx, proj.ID, "phase-0", 0, now)
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	milestone, err := app.CreateMilestone(ctx, proj.ID, phase.ID, "milestone-0", 0, now)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return proj.ID, phase.ID, milestone.ID
}

// Seed scenario 1: claim & heartbeat.
func TestClaimAndHeartbeat(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)

	task, err := app.CreateTask(ctx, CreateTaskInput{
		ProjectID:      projectID,
		PhaseID:        phaseID,
		MilestoneID:    milestoneID,
		Title:          "implement handler",
		TaskClass:      domain.ClassBackend,
		WorkSpec:       domain.WorkSpec{"objective": "x", "acceptance_criteria": []string{"y"}},
		CapabilityTags: []string{"backend"},
	}, now)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Tasks are created in backlog; move to ready so it is offered.
	if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, task.ID, domain.TaskReady, now)); err != nil {
		t.Fatalf("transition to ready: %v", err)
	}

	ready, err := app.GetReadyTasks(ctx, projectID, "a", []string{"backend"})
	if err != nil {
		t.Fatalf("get ready tasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != task.ID {
		t.Fatalf("expected [T], got %+v", ready)
	}

	claim, err := app.ClaimTask(ctx, projectID, task.ID, "a", now)
	if err != nil {
		t.Fatalf("claim task: %v", err)
	}
	if claim.Task.State != domain.TaskClaimed {
		t.Fatalf("expected claimed state, got %s", claim.Task.State)
	}
	if claim.Snapshot.CapturedPlanVersion != 1 {
		t.Fatalf("expected captured plan version 1, got %d", claim.Snapshot.CapturedPlanVersion)
	}

	seen := int64(1)
	if _, err := app.HeartbeatTask(ctx, projectID, task.ID, "a", claim.Lease.Token, &seen, now.Add(time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

// Seed scenario 2: plan stale rejects heartbeat.
func TestPlanStaleRejectsHeartbeat(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)
	task, err := app.CreateTask(ctx, CreateTaskInput{
		ProjectID:   projectID,
		PhaseID:     phaseID,
		MilestoneID: milestoneID,
		Title:       "t",
		TaskClass:   domain.ClassBackend,
		WorkSpec:    domain.WorkSpec{},
	}, now)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, task.ID, domain.TaskReady, now)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	claim, err := app.ClaimTask(ctx, projectID, task.ID, "a", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	cs, err := app.CreatePlanChangeset(ctx, projectID, 1, 2, []domain.ChangeOperation{
		{Op: domain.OpReprioritizeTask, TaskID: &task.ID, Payload: map[string]any{"priority": float64(5)}},
	}, "planner", now)
	if err != nil {
		t.Fatalf("create changeset: %v", err)
	}
	if _, err := app.ApplyPlanChangeset(ctx, cs.ID, false, "planner", now); err != nil {
		t.Fatalf("apply changeset: %v", err)
	}

	seen := int64(1)
	_, err = app.HeartbeatTask(ctx, projectID, task.ID, "a", claim.Lease.Token, &seen, now.Add(time.Minute))
	if errs.GetCode(err) != errs.CodePlanStale {
		t.Fatalf("expected PLAN_STALE, got %v", err)
	}
	e := errs.As(err)
	if e == nil || e.Details["current_plan_version"] != int64(2) {
		t.Fatalf("expected current_plan_version=2 in details, got %+v", e)
	}
}

// Seed scenario 3: material change invalidates claim/reservation.
func TestMaterialChangeInvalidatesClaim(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)

	t1, err := app.CreateTask(ctx, CreateTaskInput{ProjectID: projectID, PhaseID: phaseID, MilestoneID: milestoneID, Title: "t1", TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{"objective": "a"}}, now)
	if err != nil {
		t.Fatalf("create t1: %v", err)
	}
	t2, err := app.CreateTask(ctx, CreateTaskInput{ProjectID: projectID, PhaseID: phaseID, MilestoneID: milestoneID, Title: "t2", TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{"objective": "b"}}, now)
	if err != nil {
		t.Fatalf("create t2: %v", err)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, id, domain.TaskReady, now)); err != nil {
			t.Fatalf("ready %s: %v", id, err)
		}
	}

	if _, err := app.ClaimTask(ctx, projectID, t1.ID, "a", now); err != nil {
		t.Fatalf("claim t1: %v", err)
	}
	if _, err := app.AssignTask(ctx, projectID, t2.ID, "b", "planner", 3600, now); err != nil {
		t.Fatalf("assign t2: %v", err)
	}

	cs, err := app.CreatePlanChangeset(ctx, projectID, 1, 2, []domain.ChangeOperation{
		{Op: domain.OpUpdateTask, TaskID: &t1.ID, Payload: map[string]any{"work_spec": map[string]any{"objective": "new-a"}}},
		{Op: domain.OpUpdateTask, TaskID: &t2.ID, Payload: map[string]any{"work_spec": map[string]any{"objective": "new-b"}}},
	}, "planner", now)
	if err != nil {
		t.Fatalf("create changeset: %v", err)
	}

	result, err := app.ApplyPlanChangeset(ctx, cs.ID, false, "planner", now)
	if err != nil {
		t.Fatalf("apply changeset: %v", err)
	}
	if len(result.InvalidatedClaimTaskIDs) != 1 || result.InvalidatedClaimTaskIDs[0] != t1.ID {
		t.Fatalf("expected t1 in invalidated claims, got %+v", result.InvalidatedClaimTaskIDs)
	}
	if len(result.InvalidatedReservationTaskIDs) != 1 || result.InvalidatedReservationTaskIDs[0] != t2.ID {
		t.Fatalf("expected t2 in invalidated reservations, got %+v", result.InvalidatedReservationTaskIDs)
	}

	got1, err := app.GetTask(ctx, t1.ID)
	if err != nil {
		t.Fatalf("get t1: %v", err)
	}
	if got1.State != domain.TaskReady {
		t.Fatalf("expected t1 ready, got %s", got1.State)
	}
	got2, err := app.GetTask(ctx, t2.ID)
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if got2.State != domain.TaskReady {
		t.Fatalf("expected t2 ready, got %s", got2.State)
	}
}

// Seed scenario 4: cosmetic change preserves claim.
func TestCosmeticChangePreservesClaim(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)
	task, err := app.CreateTask(ctx, CreateTaskInput{ProjectID: projectID, PhaseID: phaseID, MilestoneID: milestoneID, Title: "t", TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{}}, now)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, task.ID, domain.TaskReady, now)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	claim, err := app.ClaimTask(ctx, projectID, task.ID, "a", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	cs, err := app.CreatePlanChangeset(ctx, projectID, 1, 2, []domain.ChangeOperation{
		{Op: domain.OpReprioritizeTask, TaskID: &task.ID, Payload: map[string]any{"priority": float64(1)}},
	}, "planner", now)
	if err != nil {
		t.Fatalf("create changeset: %v", err)
	}
	if _, err := app.ApplyPlanChangeset(ctx, cs.ID, false, "planner", now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := app.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.State != domain.TaskClaimed {
		t.Fatalf("expected lease preserved (state still claimed), got %s", got.State)
	}

	seen := int64(2)
	if _, err := app.HeartbeatTask(ctx, projectID, task.ID, "a", claim.Lease.Token, &seen, now.Add(time.Minute)); err != nil {
		t.Fatalf("heartbeat after cosmetic change: %v", err)
	}
}

// Seed scenario 5: gate enforcement.
func TestGateEnforcement(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)
	gate, err := app.CreateTask(ctx, CreateTaskInput{ProjectID: projectID, PhaseID: phaseID, MilestoneID: milestoneID, Title: "G", TaskClass: domain.ClassReviewGate, WorkSpec: domain.WorkSpec{}}, now)
	if err != nil {
		t.Fatalf("create gate task: %v", err)
	}
	if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, gate.ID, domain.TaskReady, now)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := app.ClaimTask(ctx, projectID, gate.ID, "agent-1", now); err != nil {
		t.Fatalf("claim gate: %v", err)
	}
	for _, to := range []domain.TaskState{domain.TaskInProgress, domain.TaskImplemented} {
		if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, gate.ID, to, now)); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	integrateReq := statemachine.Request{
		ProjectID:          projectID,
		TaskID:             gate.ID,
		ToState:            domain.TaskIntegrated,
		ActorID:            "agent-1",
		ReviewedBy:         "r",
		ReviewEvidenceRefs: []string{"review://100"},
		Now:                now,
	}

	_, err = app.TransitionTaskState(ctx, integrateReq)
	if errs.GetCode(err) != errs.CodeGateDecisionRequired {
		t.Fatalf("expected GATE_DECISION_REQUIRED, got %v", err)
	}

	if _, err := app.CreateGateDecision(ctx, projectID, &gate.ID, nil, domain.GateApproved, "looks good", "r", now); err != nil {
		t.Fatalf("record gate decision: %v", err)
	}

	result, err := app.TransitionTaskState(ctx, integrateReq)
	if err != nil {
		t.Fatalf("expected integration to succeed after gate approval: %v", err)
	}
	if result.Task.State != domain.TaskIntegrated {
		t.Fatalf("expected integrated, got %s", result.Task.State)
	}
}

func TestSelfReviewNotAllowed(t *testing.T) {
	app := newApp()
	ctx := context.Background()
	now := time.Now().UTC()

	projectID, phaseID, milestoneID := seedProject(t, ctx, app, now)
	task, err := app.CreateTask(ctx, CreateTaskInput{ProjectID: projectID, PhaseID: phaseID, MilestoneID: milestoneID, Title: "t", TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{}}, now)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, task.ID, domain.TaskReady, now)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := app.ClaimTask(ctx, projectID, task.ID, "a", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, to := range []domain.TaskState{domain.TaskInProgress, domain.TaskImplemented} {
		if _, err := app.TransitionTaskState(ctx, transitionReq(projectID, task.ID, to, now)); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	_, err = app.TransitionTaskState(ctx, statemachine.Request{
		ProjectID:          projectID,
		TaskID:             task.ID,
		ToState:            domain.TaskIntegrated,
		ActorID:            "a",
		ReviewedBy:         "a",
		ReviewEvidenceRefs: []string{"review://1"},
		Now:                now,
	})
	if errs.GetCode(err) != errs.CodeSelfReviewNotAllowed {
		t.Fatalf("expected SELF_REVIEW_NOT_ALLOWED, got %v", err)
	}

	_, err = app.TransitionTaskState(ctx, statemachine.Request{
		ProjectID: projectID,
		TaskID:    task.ID,
		ToState:   domain.TaskIntegrated,
		ActorID:   "a",
		Now:       now,
	})
	if errs.GetCode(err) != errs.CodeReviewRequiredForIntegration {
		t.Fatalf("expected REVIEW_REQUIRED_FOR_INTEGRATION, got %v", err)
	}
}
