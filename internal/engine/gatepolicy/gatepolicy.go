// Package gatepolicy implements C7: gate enforcement support (candidate
// readiness rollup) and idempotent policy-driven gate task emission.
package gatepolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// Engine evaluates gate policy and records gate decisions.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// RecordDecision validates and persists a GateDecision; exactly one of
// taskID/phaseID must be set.
func (e *Engine) RecordDecision(ctx context.Context, projectID string, taskID, phaseID *string, outcome domain.GateOutcome, notes, decidedBy string, now time.Time) (domain.GateDecision, error) {
	var result domain.GateDecision
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if !outcome.Valid() {
			return errs.InvalidGateOutcome(string(outcome))
		}
		if (taskID == nil) == (phaseID == nil) {
			return errs.GateScopeRequired()
		}
		d, err := e.store.Gates().CreateDecision(ctx, domain.GateDecision{
			ProjectID: projectID,
			TaskID:    taskID,
			PhaseID:   phaseID,
			Outcome:   outcome,
			Notes:     notes,
			DecidedBy: decidedBy,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		entityID := ""
		if taskID != nil {
			entityID = *taskID
		} else if phaseID != nil {
			entityID = *phaseID
		}
		if _, err := e.store.Events().Append(ctx, domain.EventLog{
			ProjectID:  projectID,
			EntityType: "gate_decision",
			EntityID:   &entityID,
			EventType:  domain.EventGateDecisionRecorded,
			Payload:    map[string]any{"gate_decision_id": d.ID, "outcome": string(outcome)},
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		result = d
		return nil
	})
	return result, err
}

// CandidateReadiness rolls up the current state of the given candidate
// task ids into a {status, ready_candidates, total_candidates} summary.
func (e *Engine) CandidateReadiness(ctx context.Context, candidateTaskIDs []string) (domain.CandidateReadiness, error) {
	tasks, err := e.store.Tasks().ListByIDs(ctx, candidateTaskIDs)
	if err != nil {
		return domain.CandidateReadiness{}, err
	}
	ready := 0
	for _, t := range tasks {
		if t.State == domain.TaskImplemented || t.State == domain.TaskIntegrated {
			ready++
		}
	}
	status := "blocked"
	if ready == len(tasks) && len(tasks) > 0 {
		status = "ready"
	}
	return domain.CandidateReadiness{
		Status:          status,
		ReadyCandidates: ready,
		TotalCandidates: len(tasks),
	}, nil
}

// EvaluatePolicies scans a project's tasks against policy and synthesizes
// gate tasks for any unmet trigger/scope combination that does not
// already have an open gate (idempotent emission).
func (e *Engine) EvaluatePolicies(ctx context.Context, projectID string, policy domain.GatePolicy, gateMilestoneID, createdBy string, now time.Time) ([]domain.Task, error) {
	var emitted []domain.Task
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		tasks, err := e.store.Tasks().ListByProject(ctx, projectID)
		if err != nil {
			return err
		}

		implemented := candidatesInState(tasks, domain.TaskImplemented)
		if policy.ImplementedBacklogThreshold > 0 && len(implemented) >= policy.ImplementedBacklogThreshold {
			scopeKey := fmt.Sprintf("backlog:%d", policy.ImplementedBacklogThreshold)
			t, err := e.emitIfAbsent(ctx, projectID, domain.TriggerImplementedBacklog, scopeKey, implemented, gateMilestoneID, createdBy, now)
			if err != nil {
				return err
			}
			if t != nil {
				emitted = append(emitted, *t)
			}
		}

		if len(policy.RiskTaskClasses) > 0 {
			risky := candidatesInClasses(tasks, policy.RiskTaskClasses, domain.TaskImplemented)
			if len(risky) >= max(policy.RiskThreshold, 1) {
				scopeKey := "risk_overlap"
				t, err := e.emitIfAbsent(ctx, projectID, domain.TriggerRiskOverlap, scopeKey, risky, gateMilestoneID, createdBy, now)
				if err != nil {
					return err
				}
				if t != nil {
					emitted = append(emitted, *t)
				}
			}
		}

		if policy.ImplementedAgeHours > 0 {
			aged := candidatesAgedBeyond(tasks, domain.TaskImplemented, time.Duration(policy.ImplementedAgeHours)*time.Hour, now)
			if len(aged) > 0 {
				scopeKey := fmt.Sprintf("age:%dh", policy.ImplementedAgeHours)
				t, err := e.emitIfAbsent(ctx, projectID, domain.TriggerImplementedAgeSLA, scopeKey, aged, gateMilestoneID, createdBy, now)
				if err != nil {
					return err
				}
				if t != nil {
					emitted = append(emitted, *t)
				}
			}
		}

		for milestoneID, completed := range candidatesCompletingMilestones(tasks) {
			scopeKey := fmt.Sprintf("milestone:%s", milestoneID)
			t, err := e.emitIfAbsent(ctx, projectID, domain.TriggerMilestoneCompletion, scopeKey, completed, gateMilestoneID, createdBy, now)
			if err != nil {
				return err
			}
			if t != nil {
				emitted = append(emitted, *t)
			}
		}
		return nil
	})
	return emitted, err
}

func (e *Engine) emitIfAbsent(ctx context.Context, projectID string, trigger domain.PolicyTrigger, scopeKey string, candidates []domain.Task, milestoneID, createdBy string, now time.Time) (*domain.Task, error) {
	exists, err := e.store.Gates().OpenGateExists(ctx, projectID, trigger, scopeKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	candidateIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		candidateIDs = append(candidateIDs, c.ID)
	}
	phaseID := ""
	if len(candidates) > 0 {
		phaseID = candidates[0].PhaseID
	}
	task, err := e.store.Tasks().Create(ctx, domain.Task{
		ProjectID:   projectID,
		PhaseID:     phaseID,
		MilestoneID: milestoneID,
		Title:       fmt.Sprintf("Gate review: %s", trigger),
		State:       domain.TaskReady,
		TaskClass:   domain.ClassReviewGate,
		WorkSpec: domain.WorkSpec{
			"policy_trigger":     string(trigger),
			"policy_scope_key":   scopeKey,
			"candidate_task_ids": candidateIDs,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func candidatesInState(tasks []domain.Task, state domain.TaskState) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out
}

func candidatesInClasses(tasks []domain.Task, classes []domain.TaskClass, state domain.TaskState) []domain.Task {
	set := make(map[domain.TaskClass]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	var out []domain.Task
	for _, t := range tasks {
		if t.State == state && set[t.TaskClass] {
			out = append(out, t)
		}
	}
	return out
}

// candidatesCompletingMilestones groups tasks by milestone and returns,
// for every milestone whose non-gate tasks have all reached implemented
// or integrated, that milestone's task set keyed by milestone id.
func candidatesCompletingMilestones(tasks []domain.Task) map[string][]domain.Task {
	byMilestone := make(map[string][]domain.Task)
	for _, t := range tasks {
		if t.MilestoneID == "" || t.TaskClass.IsGateClass() {
			continue
		}
		byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t)
	}
	out := make(map[string][]domain.Task)
	for milestoneID, group := range byMilestone {
		done := true
		for _, t := range group {
			if t.State != domain.TaskImplemented && t.State != domain.TaskIntegrated {
				done = false
				break
			}
		}
		if done {
			out[milestoneID] = group
		}
	}
	return out
}

func candidatesAgedBeyond(tasks []domain.Task, state domain.TaskState, age time.Duration, now time.Time) []domain.Task {
	var out []domain.Task
	for _, t := range tasks {
		if t.State == state && now.Sub(t.UpdatedAt) >= age {
			out = append(out, t)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
