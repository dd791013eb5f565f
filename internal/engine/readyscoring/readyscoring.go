// Package readyscoring implements C11: the ready-work queue an agent polls
// to pick its next task, filtering by capability and reservation and
// ordering by priority with a deterministic tie-break.
package readyscoring

import (
	"context"
	"sort"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
)

// Engine computes the ready-work view for a project.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Candidate holds a single task considered for the ready-work view.
type Candidate struct {
	Task domain.Task
}

// ForAgent returns the subset of a project's tasks in state ready that
// agentID is eligible to claim right now (a ready task with an active
// reservation is offered only to its assignee; tasks in state reserved
// are not listed), ordered by ascending priority, then by creation time,
// then by task id for a total, deterministic order.
func (e *Engine) ForAgent(ctx context.Context, projectID, agentID string, capabilities []string) ([]domain.Task, error) {
	ready, err := e.store.Tasks().ListReady(ctx, projectID)
	if err != nil {
		return nil, err
	}

	deps, err := e.store.Dependencies().ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	predecessorsOf := make(map[string][]domain.DependencyEdge, len(deps))
	for _, edge := range deps {
		predecessorsOf[edge.ToTaskID] = append(predecessorsOf[edge.ToTaskID], edge)
	}

	var eligible []domain.Task
	for _, task := range ready {
		if !task.HasCapability(capabilities) {
			continue
		}

		_, activeLease, err := e.store.Leases().GetActiveByTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if activeLease {
			continue
		}

		reservation, activeReservation, err := e.store.Reservations().GetActiveByTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if activeReservation && reservation.AssigneeAgentID != agentID {
			continue
		}

		blocked := false
		for _, edge := range predecessorsOf[task.ID] {
			predecessor, err := e.store.Tasks().Get(ctx, edge.FromTaskID)
			if err != nil {
				return nil, err
			}
			if !edge.Satisfied(predecessor.State) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		eligible = append(eligible, task)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	return eligible, nil
}
