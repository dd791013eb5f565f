package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
)

type eventStore Store

func (s *eventStore) parent() *Store { return (*Store)(s) }

func (s *eventStore) Append(ctx context.Context, e domain.EventLog) (domain.EventLog, error) {
	defer s.parent().lock(ctx)()
	e.ID = s.parent().genSeq()
	s.parent().events = append(s.parent().events, e)
	return e, nil
}

func (s *eventStore) ListFrom(ctx context.Context, projectID string, entityType string, eventType domain.EventType, fromID int64, limit int) ([]domain.EventLog, error) {
	defer s.parent().lock(ctx)()
	var out []domain.EventLog
	for _, e := range s.parent().events {
		if e.ID < fromID {
			continue
		}
		if e.ProjectID != projectID {
			continue
		}
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		if eventType != "" && e.EventType != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *eventStore) CountByType(ctx context.Context, projectID string, eventType domain.EventType) (int64, error) {
	defer s.parent().lock(ctx)()
	var n int64
	for _, e := range s.parent().events {
		if e.ProjectID == projectID && e.EventType == eventType {
			n++
		}
	}
	return n, nil
}
