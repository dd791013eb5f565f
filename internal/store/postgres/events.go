package postgres

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type eventStore Store

func (s *eventStore) parent() *Store { return (*Store)(s) }

// Append relies on event_log.id being a BIGSERIAL: the database, not the
// caller, assigns the monotonically increasing replay order.
func (s *eventStore) Append(ctx context.Context, e domain.EventLog) (domain.EventLog, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.EventLog{}, errs.InvalidEventPayload(err.Error())
	}
	err = s.parent().q(ctx).QueryRowContext(ctx, `
		INSERT INTO event_log (project_id, entity_type, entity_id, event_type, payload, caused_by, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.ProjectID, e.EntityType, e.EntityID, e.EventType, payload, e.CausedBy, e.CorrelationID, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return domain.EventLog{}, errs.DBError("append_event", err)
	}
	return e, nil
}

func (s *eventStore) ListFrom(ctx context.Context, projectID string, entityType string, eventType domain.EventType, fromID int64, limit int) ([]domain.EventLog, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, entity_type, entity_id, event_type, payload, caused_by, correlation_id, created_at
		FROM event_log
		WHERE project_id = $1 AND id >= $2
			AND ($3 = '' OR entity_type = $3)
			AND ($4 = '' OR event_type = $4)
		ORDER BY id
		LIMIT $5
	`, projectID, fromID, entityType, string(eventType), sqlLimit(limit))
	if err != nil {
		return nil, errs.DBError("list_events", err)
	}
	defer rows.Close()

	var out []domain.EventLog
	for rows.Next() {
		var e domain.EventLog
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EntityType, &e.EntityID, &e.EventType,
			&payload, &e.CausedBy, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, errs.DBError("scan_event", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *eventStore) CountByType(ctx context.Context, projectID string, eventType domain.EventType) (int64, error) {
	var n int64
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_log WHERE project_id = $1 AND event_type = $2
	`, projectID, eventType).Scan(&n)
	if err != nil {
		return 0, errs.DBError("count_events_by_type", err)
	}
	return n, nil
}
