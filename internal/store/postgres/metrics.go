package postgres

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type metricsStore Store

func (s *metricsStore) parent() *Store { return (*Store)(s) }

func (s *metricsStore) GetCheckpoint(ctx context.Context, projectID string, mode domain.MetricsMode) (domain.MetricsJobCheckpoint, bool, error) {
	var c domain.MetricsJobCheckpoint
	c.ProjectID = projectID
	c.Mode = mode
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT last_event_id, last_success_at FROM metrics_job_checkpoints WHERE project_id = $1 AND mode = $2
	`, projectID, mode).Scan(&c.LastEventID, &c.LastSuccessAt)
	if err != nil {
		return domain.MetricsJobCheckpoint{}, false, notFoundToBool(err)
	}
	return c, true, nil
}

func (s *metricsStore) PutCheckpoint(ctx context.Context, c domain.MetricsJobCheckpoint) error {
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO metrics_job_checkpoints (project_id, mode, last_event_id, last_success_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, mode) DO UPDATE SET last_event_id = $3, last_success_at = $4
	`, c.ProjectID, c.Mode, c.LastEventID, c.LastSuccessAt)
	if err != nil {
		return errs.DBError("put_checkpoint", err)
	}
	return nil
}

const metricsRunColumns = `id, project_id, mode, idempotency_key, status,
	start_event_id, end_event_id, processed_events, failure_reason, created_at, completed_at`

func scanMetricsRun(row interface{ Scan(...any) error }) (domain.MetricsJobRun, error) {
	var r domain.MetricsJobRun
	err := row.Scan(&r.ID, &r.ProjectID, &r.Mode, &r.IdempotencyKey, &r.Status,
		&r.StartEventID, &r.EndEventID, &r.ProcessedEvents, &r.FailureReason, &r.CreatedAt, &r.CompletedAt)
	return r, err
}

func (s *metricsStore) GetRunByIdempotencyKey(ctx context.Context, projectID, key string) (domain.MetricsJobRun, bool, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT `+metricsRunColumns+` FROM metrics_job_runs WHERE project_id = $1 AND idempotency_key = $2
	`, projectID, key)
	r, err := scanMetricsRun(row)
	if err != nil {
		return domain.MetricsJobRun{}, false, notFoundToBool(err)
	}
	return r, true, nil
}

func (s *metricsStore) CreateRun(ctx context.Context, r domain.MetricsJobRun) (domain.MetricsJobRun, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO metrics_job_runs (`+metricsRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.ProjectID, r.Mode, r.IdempotencyKey, r.Status,
		r.StartEventID, r.EndEventID, r.ProcessedEvents, r.FailureReason, r.CreatedAt, r.CompletedAt)
	if err != nil {
		return domain.MetricsJobRun{}, errs.DBError("create_metrics_run", err)
	}
	return r, nil
}

func (s *metricsStore) GetRun(ctx context.Context, id string) (domain.MetricsJobRun, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+metricsRunColumns+` FROM metrics_job_runs WHERE id = $1`, id)
	r, err := scanMetricsRun(row)
	if err != nil {
		return domain.MetricsJobRun{}, notFound(err, func() *errs.Error { return errs.RunNotFound(id) })
	}
	return r, nil
}

func (s *metricsStore) UpsertCounter(ctx context.Context, projectID string, state domain.TaskState, lastEventID int64, delta int64) (domain.MetricsStateTransitionCounter, error) {
	var c domain.MetricsStateTransitionCounter
	c.ProjectID = projectID
	c.State = state
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		INSERT INTO metrics_state_transition_counters (project_id, state, transition_count, last_event_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, state) DO UPDATE SET
			transition_count = metrics_state_transition_counters.transition_count + $3,
			last_event_id = GREATEST(metrics_state_transition_counters.last_event_id, $4)
		RETURNING transition_count, last_event_id
	`, projectID, state, delta, lastEventID).Scan(&c.TransitionCount, &c.LastEventID)
	if err != nil {
		return domain.MetricsStateTransitionCounter{}, errs.DBError("upsert_counter", err)
	}
	return c, nil
}

func (s *metricsStore) ListCounters(ctx context.Context, projectID string) ([]domain.MetricsStateTransitionCounter, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT project_id, state, transition_count, last_event_id
		FROM metrics_state_transition_counters WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, errs.DBError("list_counters", err)
	}
	defer rows.Close()

	var out []domain.MetricsStateTransitionCounter
	for rows.Next() {
		var c domain.MetricsStateTransitionCounter
		if err := rows.Scan(&c.ProjectID, &c.State, &c.TransitionCount, &c.LastEventID); err != nil {
			return nil, errs.DBError("scan_counter", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *metricsStore) DeleteCounters(ctx context.Context, projectID string) error {
	_, err := s.parent().q(ctx).ExecContext(ctx, `DELETE FROM metrics_state_transition_counters WHERE project_id = $1`, projectID)
	if err != nil {
		return errs.DBError("delete_counters", err)
	}
	return nil
}
