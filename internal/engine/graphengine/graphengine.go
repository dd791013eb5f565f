// Package graphengine implements C4: cycle-safe dependency insertion and
// the readiness predicate over a project's task dependency graph.
package graphengine

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// Engine evaluates and mutates the dependency graph of a single store
// backend. It holds no state of its own.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// CreateDependency inserts from -> to (unlocked when the predecessor
// reaches unlockOn), rejecting self-edges, missing/foreign endpoints, and
// edges that would close a cycle.
func (e *Engine) CreateDependency(ctx context.Context, projectID, from, to string, unlockOn domain.UnlockOn) (domain.DependencyEdge, error) {
	var created domain.DependencyEdge
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if from == to {
			return errs.CycleDetected(from, to)
		}
		if !unlockOn.Valid() {
			return errs.InvalidState(string(unlockOn))
		}
		fromTask, err := e.store.Tasks().Get(ctx, from)
		if err != nil {
			return err
		}
		toTask, err := e.store.Tasks().Get(ctx, to)
		if err != nil {
			return err
		}
		if fromTask.ProjectID != projectID || toTask.ProjectID != projectID {
			return errs.ProjectMismatch()
		}
		cyclic, err := e.CreatesCycle(ctx, projectID, from, to)
		if err != nil {
			return err
		}
		if cyclic {
			return errs.CycleDetected(from, to)
		}
		edge, err := e.store.Dependencies().Create(ctx, domain.DependencyEdge{
			ProjectID:  projectID,
			FromTaskID: from,
			ToTaskID:   to,
			UnlockOn:   unlockOn,
		})
		if err != nil {
			return err
		}
		created = edge
		return nil
	})
	return created, err
}

// CreatesCycle reports whether inserting the edge from->to would create a
// directed cycle: true iff from is reachable from to following existing
// edges within projectID. Implemented as a depth-first search over to's
// descendants with an explicit visited set, constant-memory over that
// set.
func (e *Engine) CreatesCycle(ctx context.Context, projectID, from, to string) (bool, error) {
	edges, err := e.store.Dependencies().ListByProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	adjacency := make(map[string][]string, len(edges))
	for _, edge := range edges {
		adjacency[edge.FromTaskID] = append(adjacency[edge.FromTaskID], edge.ToTaskID)
	}

	visited := make(map[string]bool)
	stack := []string{to}
	for len(stack) > 0 {
		n := len(stack) - 1
		current := stack[n]
		stack = stack[:n]
		if current == from {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, adjacency[current]...)
	}
	return false, nil
}

// Claimable implements the readiness predicate of §4.1 for a single task
// already known to be in state TaskReady, against the graph's current
// predecessor edges.
func Claimable(task domain.Task, predecessors []domain.DependencyEdge, predecessorStates map[string]domain.TaskState, activeLease, activeReservation bool, reservationAssignee string, agentID string, capabilities []string) bool {
	if task.State != domain.TaskReady {
		return false
	}
	if activeLease {
		return false
	}
	if activeReservation && reservationAssignee != agentID {
		return false
	}
	if !task.HasCapability(capabilities) {
		return false
	}
	for _, edge := range predecessors {
		state, ok := predecessorStates[edge.FromTaskID]
		if !ok {
			return false
		}
		if !edge.Satisfied(state) {
			return false
		}
	}
	return true
}
