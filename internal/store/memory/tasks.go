package memory

import (
	"context"
	"sort"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type taskStore Store

func (s *taskStore) parent() *Store { return (*Store)(s) }

func (s *taskStore) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	defer s.parent().lock(ctx)()
	if t.ID == "" {
		t.ID = newID()
	}
	s.parent().tasks[t.ID] = t
	return t, nil
}

func (s *taskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	defer s.parent().lock(ctx)()
	t, ok := s.parent().tasks[id]
	if !ok {
		return domain.Task{}, errs.TaskNotFound(id)
	}
	return t, nil
}

// LockForUpdate is semantically identical to Get in the in-memory
// backend: the enclosing Atomic call already holds the store-wide mutex,
// which subsumes the per-row lock the relational backend takes
// explicitly via SELECT ... FOR UPDATE.
func (s *taskStore) LockForUpdate(ctx context.Context, id string) (domain.Task, error) {
	return s.Get(ctx, id)
}

func (s *taskStore) Update(ctx context.Context, t domain.Task) (domain.Task, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().tasks[t.ID]; !ok {
		return domain.Task{}, errs.TaskNotFound(t.ID)
	}
	s.parent().tasks[t.ID] = t
	return t, nil
}

func (s *taskStore) ListByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Task
	for _, t := range s.parent().tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *taskStore) ListReady(ctx context.Context, projectID string) ([]domain.Task, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Task
	for _, t := range s.parent().tasks {
		if t.ProjectID == projectID && t.State == domain.TaskReady {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *taskStore) ListByIDs(ctx context.Context, ids []string) ([]domain.Task, error) {
	defer s.parent().lock(ctx)()
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.parent().tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

type dependencyStore Store

func (s *dependencyStore) parent() *Store { return (*Store)(s) }

func (s *dependencyStore) Create(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, error) {
	defer s.parent().lock(ctx)()
	if e.ID == "" {
		e.ID = newID()
	}
	s.parent().dependencies[e.ID] = e
	return e, nil
}

func (s *dependencyStore) ListByProject(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	defer s.parent().lock(ctx)()
	var out []domain.DependencyEdge
	for _, e := range s.parent().dependencies {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *dependencyStore) ListPredecessors(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	defer s.parent().lock(ctx)()
	var out []domain.DependencyEdge
	for _, e := range s.parent().dependencies {
		if e.ToTaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *dependencyStore) Exists(ctx context.Context, projectID, from, to string) (bool, error) {
	defer s.parent().lock(ctx)()
	for _, e := range s.parent().dependencies {
		if e.ProjectID == projectID && e.FromTaskID == from && e.ToTaskID == to {
			return true, nil
		}
	}
	return false, nil
}
