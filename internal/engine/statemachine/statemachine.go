// Package statemachine implements C5: the task lifecycle's allowed
// transitions, review/gate preconditions, forced administrative
// overrides, and the lease/reservation release side effects a transition
// triggers.
package statemachine

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// allowed is the non-forced adjacency table from §4.2.
var allowed = map[domain.TaskState][]domain.TaskState{
	domain.TaskBacklog:     {domain.TaskReady},
	domain.TaskReady:       {domain.TaskReserved, domain.TaskClaimed, domain.TaskBlocked, domain.TaskCancelled, domain.TaskAbandoned},
	domain.TaskReserved:    {domain.TaskClaimed, domain.TaskReady, domain.TaskCancelled},
	domain.TaskClaimed:     {domain.TaskInProgress, domain.TaskReady, domain.TaskBlocked, domain.TaskConflict},
	domain.TaskInProgress:  {domain.TaskImplemented, domain.TaskBlocked, domain.TaskConflict, domain.TaskReady},
	domain.TaskImplemented: {domain.TaskIntegrated, domain.TaskConflict, domain.TaskReady},
	domain.TaskConflict:    {domain.TaskInProgress, domain.TaskBlocked, domain.TaskAbandoned},
	domain.TaskBlocked:     {domain.TaskReady, domain.TaskAbandoned, domain.TaskCancelled},
}

func transitionAllowed(from, to domain.TaskState) bool {
	for _, candidate := range allowed[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Request describes a caller-initiated state transition.
type Request struct {
	ProjectID          string
	TaskID             string
	ToState            domain.TaskState
	Reason             string
	ActorID            string
	ReviewedBy         string
	ReviewEvidenceRefs []string
	Force              bool
	Now                time.Time
}

// Result is what Transition returns on success.
type Result struct {
	Task                  domain.Task
	ReleasedLeaseID       string
	ReleasedReservationID string
}

// Engine applies task state transitions against a store backend.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Transition validates and applies req, persisting the new state, the
// side-effect releases it implies, and a task_state_transitioned event,
// all within one transaction under the task's row lock.
func (e *Engine) Transition(ctx context.Context, req Request) (Result, error) {
	var result Result
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		task, err := e.store.Tasks().LockForUpdate(ctx, req.TaskID)
		if err != nil {
			return err
		}
		if task.ProjectID != req.ProjectID {
			return errs.ProjectMismatch()
		}
		if task.State.Terminal() {
			return errs.StateNotAllowed(string(task.State))
		}
		if !req.ToState.Valid() {
			return errs.InvalidState(string(req.ToState))
		}

		if !req.Force && !transitionAllowed(task.State, req.ToState) {
			return errs.InvalidStateTransition(string(task.State), string(req.ToState))
		}

		if req.ToState == domain.TaskIntegrated && !req.Force {
			if err := e.checkIntegrationPreconditions(ctx, task, req); err != nil {
				return err
			}
		}

		from := task.State
		task.State = req.ToState
		task.UpdatedAt = req.Now
		task.Version++

		if (from == domain.TaskClaimed || from == domain.TaskInProgress) &&
			req.ToState != domain.TaskClaimed && req.ToState != domain.TaskInProgress {
			leaseID, err := releaseActiveLease(ctx, e.store, task.ID, req.Now)
			if err != nil {
				return err
			}
			result.ReleasedLeaseID = leaseID
		}

		if from == domain.TaskReserved && req.ToState != domain.TaskClaimed {
			resID, err := releaseActiveReservation(ctx, e.store, task.ID, req.Now)
			if err != nil {
				return err
			}
			result.ReleasedReservationID = resID
		}

		task, err = e.store.Tasks().Update(ctx, task)
		if err != nil {
			return err
		}
		result.Task = task

		payload := domain.TaskStateTransitionedPayload{
			From:         from,
			To:           req.ToState,
			Reason:       req.Reason,
			Actor:        req.ActorID,
			ReviewedBy:   req.ReviewedBy,
			EvidenceRefs: req.ReviewEvidenceRefs,
		}
		_, err = e.store.Events().Append(ctx, domain.EventLog{
			ProjectID:  req.ProjectID,
			EntityType: "task",
			EntityID:   &task.ID,
			EventType:  domain.EventTaskStateTransitioned,
			Payload: map[string]any{
				"from_state":    string(payload.From),
				"to_state":      string(payload.To),
				"reason":        payload.Reason,
				"actor":         payload.Actor,
				"reviewed_by":   payload.ReviewedBy,
				"evidence_refs": payload.EvidenceRefs,
			},
			CreatedAt: req.Now,
		})
		return err
	})
	return result, err
}

func (e *Engine) checkIntegrationPreconditions(ctx context.Context, task domain.Task, req Request) error {
	if req.ReviewedBy == "" {
		return errs.ReviewRequiredForIntegration()
	}
	if req.ReviewedBy == req.ActorID {
		return errs.SelfReviewNotAllowed()
	}
	if len(req.ReviewEvidenceRefs) == 0 {
		return errs.ReviewEvidenceRequired()
	}
	if task.TaskClass.IsGateClass() {
		decisions, err := e.store.Gates().ListDecisionsByTask(ctx, task.ID)
		if err != nil {
			return err
		}
		ok := false
		for _, d := range decisions {
			if d.Outcome.Passing() {
				ok = true
				break
			}
		}
		if !ok {
			return errs.GateDecisionRequired(task.ID)
		}
	}
	return nil
}

func releaseActiveLease(ctx context.Context, s store.Store, taskID string, now time.Time) (string, error) {
	lease, ok, err := s.Leases().GetActiveByTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	lease.Status = domain.LeaseReleased
	lease.ReleasedAt = &now
	if _, err := s.Leases().Update(ctx, lease); err != nil {
		return "", err
	}
	return lease.ID, nil
}

func releaseActiveReservation(ctx context.Context, s store.Store, taskID string, now time.Time) (string, error) {
	res, ok, err := s.Reservations().GetActiveByTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	res.Status = domain.ReservationReleased
	res.ReleasedAt = &now
	if _, err := s.Reservations().Update(ctx, res); err != nil {
		return "", err
	}
	return res.ID, nil
}
