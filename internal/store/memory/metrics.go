package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type metricsStore Store

func (s *metricsStore) parent() *Store { return (*Store)(s) }

func checkpointKey(projectID string, mode domain.MetricsMode) string {
	return projectID + "/" + string(mode)
}

func counterKey(projectID string, state domain.TaskState) string {
	return projectID + "/" + string(state)
}

func (s *metricsStore) GetCheckpoint(ctx context.Context, projectID string, mode domain.MetricsMode) (domain.MetricsJobCheckpoint, bool, error) {
	defer s.parent().lock(ctx)()
	c, ok := s.parent().checkpoints[checkpointKey(projectID, mode)]
	return c, ok, nil
}

func (s *metricsStore) PutCheckpoint(ctx context.Context, c domain.MetricsJobCheckpoint) error {
	defer s.parent().lock(ctx)()
	s.parent().checkpoints[checkpointKey(c.ProjectID, c.Mode)] = c
	return nil
}

func (s *metricsStore) GetRunByIdempotencyKey(ctx context.Context, projectID, key string) (domain.MetricsJobRun, bool, error) {
	defer s.parent().lock(ctx)()
	for _, r := range s.parent().runs {
		if r.ProjectID == projectID && r.IdempotencyKey == key {
			return r, true, nil
		}
	}
	return domain.MetricsJobRun{}, false, nil
}

func (s *metricsStore) CreateRun(ctx context.Context, r domain.MetricsJobRun) (domain.MetricsJobRun, error) {
	defer s.parent().lock(ctx)()
	if r.ID == "" {
		r.ID = newID()
	}
	s.parent().runs[r.ID] = r
	return r, nil
}

func (s *metricsStore) GetRun(ctx context.Context, id string) (domain.MetricsJobRun, error) {
	defer s.parent().lock(ctx)()
	r, ok := s.parent().runs[id]
	if !ok {
		return domain.MetricsJobRun{}, errs.RunNotFound(id)
	}
	return r, nil
}

func (s *metricsStore) UpsertCounter(ctx context.Context, projectID string, state domain.TaskState, lastEventID int64, delta int64) (domain.MetricsStateTransitionCounter, error) {
	defer s.parent().lock(ctx)()
	key := counterKey(projectID, state)
	c := s.parent().counters[key]
	c.ProjectID = projectID
	c.State = state
	c.TransitionCount += delta
	if lastEventID > c.LastEventID {
		c.LastEventID = lastEventID
	}
	s.parent().counters[key] = c
	return c, nil
}

func (s *metricsStore) ListCounters(ctx context.Context, projectID string) ([]domain.MetricsStateTransitionCounter, error) {
	defer s.parent().lock(ctx)()
	var out []domain.MetricsStateTransitionCounter
	for _, c := range s.parent().counters {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *metricsStore) DeleteCounters(ctx context.Context, projectID string) error {
	defer s.parent().lock(ctx)()
	for k, c := range s.parent().counters {
		if c.ProjectID == projectID {
			delete(s.parent().counters, k)
		}
	}
	return nil
}
