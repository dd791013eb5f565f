package postgres

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type taskStore Store

func (s *taskStore) parent() *Store { return (*Store)(s) }

func (s *taskStore) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	workSpec, err := json.Marshal(t.WorkSpec)
	if err != nil {
		return domain.Task{}, errs.InvalidEventPayload("work_spec: " + err.Error())
	}
	_, err = s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, phase_id, milestone_id, title, state, priority,
			work_spec, task_class, capability_tags, exclusive_paths, shared_paths,
			introduced_in_plan_version, deprecated_in_plan_version, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, t.ID, t.ProjectID, t.PhaseID, t.MilestoneID, t.Title, t.State, t.Priority,
		workSpec, t.TaskClass, pq.Array(t.CapabilityTags), pq.Array(t.ExclusivePaths), pq.Array(t.SharedPaths),
		t.IntroducedInPlanVersion, t.DeprecatedInPlanVersion, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, errs.DBError("create_task", err)
	}
	return t, nil
}

const taskColumns = `id, project_id, phase_id, milestone_id, title, state, priority,
	work_spec, task_class, capability_tags, exclusive_paths, shared_paths,
	introduced_in_plan_version, deprecated_in_plan_version, version, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var workSpec []byte
	err := row.Scan(&t.ID, &t.ProjectID, &t.PhaseID, &t.MilestoneID, &t.Title, &t.State, &t.Priority,
		&workSpec, &t.TaskClass, pq.Array(&t.CapabilityTags), pq.Array(&t.ExclusivePaths), pq.Array(&t.SharedPaths),
		&t.IntroducedInPlanVersion, &t.DeprecatedInPlanVersion, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if len(workSpec) > 0 {
		if err := json.Unmarshal(workSpec, &t.WorkSpec); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func (s *taskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, notFound(err, func() *errs.Error { return errs.TaskNotFound(id) })
	}
	return t, nil
}

// LockForUpdate takes the row lock the fixed lock order requires before
// any mutating operation reads current task state.
func (s *taskStore) LockForUpdate(ctx context.Context, id string) (domain.Task, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, notFound(err, func() *errs.Error { return errs.TaskNotFound(id) })
	}
	return t, nil
}

func (s *taskStore) Update(ctx context.Context, t domain.Task) (domain.Task, error) {
	workSpec, err := json.Marshal(t.WorkSpec)
	if err != nil {
		return domain.Task{}, errs.InvalidEventPayload("work_spec: " + err.Error())
	}
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE tasks SET title = $2, state = $3, priority = $4, work_spec = $5, task_class = $6,
			capability_tags = $7, exclusive_paths = $8, shared_paths = $9,
			introduced_in_plan_version = $10, deprecated_in_plan_version = $11,
			version = $12, updated_at = $13
		WHERE id = $1
	`, t.ID, t.Title, t.State, t.Priority, workSpec, t.TaskClass,
		pq.Array(t.CapabilityTags), pq.Array(t.ExclusivePaths), pq.Array(t.SharedPaths),
		t.IntroducedInPlanVersion, t.DeprecatedInPlanVersion, t.Version, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, errs.DBError("update_task", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Task{}, errs.TaskNotFound(t.ID)
	}
	return t, nil
}

func (s *taskStore) ListByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, errs.DBError("list_tasks", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *taskStore) ListReady(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = $1 AND state = $2
		ORDER BY priority, created_at, id
	`, projectID, domain.TaskReady)
	if err != nil {
		return nil, errs.DBError("list_ready_tasks", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *taskStore) ListByIDs(ctx context.Context, ids []string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, errs.DBError("list_tasks_by_ids", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.Task, error) {
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.DBError("scan_task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type dependencyStore Store

func (s *dependencyStore) parent() *Store { return (*Store)(s) }

func (s *dependencyStore) Create(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO dependency_edges (id, project_id, from_task_id, to_task_id, unlock_on)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.ProjectID, e.FromTaskID, e.ToTaskID, e.UnlockOn)
	if err != nil {
		return domain.DependencyEdge{}, errs.DBError("create_dependency_edge", err)
	}
	return e, nil
}

func (s *dependencyStore) ListByProject(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, from_task_id, to_task_id, unlock_on FROM dependency_edges WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, errs.DBError("list_dependency_edges", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

func (s *dependencyStore) ListPredecessors(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, from_task_id, to_task_id, unlock_on FROM dependency_edges WHERE to_task_id = $1
	`, taskID)
	if err != nil {
		return nil, errs.DBError("list_predecessors", err)
	}
	defer rows.Close()
	return collectEdges(rows)
}

func collectEdges(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.DependencyEdge, error) {
	var out []domain.DependencyEdge
	for rows.Next() {
		var e domain.DependencyEdge
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FromTaskID, &e.ToTaskID, &e.UnlockOn); err != nil {
			return nil, errs.DBError("scan_dependency_edge", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *dependencyStore) Exists(ctx context.Context, projectID, from, to string) (bool, error) {
	var exists bool
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM dependency_edges WHERE project_id = $1 AND from_task_id = $2 AND to_task_id = $3)
	`, projectID, from, to).Scan(&exists)
	if err != nil {
		return false, errs.DBError("dependency_edge_exists", err)
	}
	return exists, nil
}
