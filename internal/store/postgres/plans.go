package postgres

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type planStore Store

func (s *planStore) parent() *Store { return (*Store)(s) }

func (s *planStore) CurrentVersion(ctx context.Context, projectID string) (int64, error) {
	var max int64
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM plan_versions WHERE project_id = $1
	`, projectID).Scan(&max)
	if err != nil {
		return 0, errs.DBError("current_plan_version", err)
	}
	return max, nil
}

func (s *planStore) CreateVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO plan_versions (project_id, version_number, changeset_id, summary, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ProjectID, v.VersionNumber, v.ChangeSetID, v.Summary, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return domain.PlanVersion{}, errs.DBError("create_plan_version", err)
	}
	return v, nil
}

func (s *planStore) CreateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	if cs.ID == "" {
		cs.ID = newID()
	}
	operations, err := json.Marshal(cs.Operations)
	if err != nil {
		return domain.PlanChangeSet{}, errs.InvalidEventPayload("operations: " + err.Error())
	}
	_, err = s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO plan_changesets (id, project_id, base_plan_version, target_plan_version,
			status, operations, created_by, created_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, cs.ID, cs.ProjectID, cs.BasePlanVersion, cs.TargetPlanVersion,
		cs.Status, operations, cs.CreatedBy, cs.CreatedAt, cs.AppliedAt)
	if err != nil {
		return domain.PlanChangeSet{}, errs.DBError("create_changeset", err)
	}
	return cs, nil
}

const changeSetColumns = `id, project_id, base_plan_version, target_plan_version,
	status, operations, created_by, created_at, applied_at`

func scanChangeSet(row interface{ Scan(...any) error }) (domain.PlanChangeSet, error) {
	var cs domain.PlanChangeSet
	var operations []byte
	err := row.Scan(&cs.ID, &cs.ProjectID, &cs.BasePlanVersion, &cs.TargetPlanVersion,
		&cs.Status, &operations, &cs.CreatedBy, &cs.CreatedAt, &cs.AppliedAt)
	if err != nil {
		return domain.PlanChangeSet{}, err
	}
	if len(operations) > 0 {
		if err := json.Unmarshal(operations, &cs.Operations); err != nil {
			return domain.PlanChangeSet{}, err
		}
	}
	return cs, nil
}

func (s *planStore) GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+changeSetColumns+` FROM plan_changesets WHERE id = $1`, id)
	cs, err := scanChangeSet(row)
	if err != nil {
		return domain.PlanChangeSet{}, notFound(err, func() *errs.Error { return errs.ChangesetNotFound(id) })
	}
	return cs, nil
}

func (s *planStore) UpdateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	operations, err := json.Marshal(cs.Operations)
	if err != nil {
		return domain.PlanChangeSet{}, errs.InvalidEventPayload("operations: " + err.Error())
	}
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE plan_changesets SET status = $2, operations = $3, applied_at = $4 WHERE id = $1
	`, cs.ID, cs.Status, operations, cs.AppliedAt)
	if err != nil {
		return domain.PlanChangeSet{}, errs.DBError("update_changeset", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.PlanChangeSet{}, errs.ChangesetNotFound(cs.ID)
	}
	return cs, nil
}

type snapshotStore Store

func (s *snapshotStore) parent() *Store { return (*Store)(s) }

func (s *snapshotStore) Create(ctx context.Context, snap domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error) {
	if snap.ID == "" {
		snap.ID = newID()
	}
	payload, err := json.Marshal(snap.WorkSpecPayload)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, errs.InvalidEventPayload("work_spec_payload: " + err.Error())
	}
	_, err = s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO task_execution_snapshots (id, project_id, task_id, lease_id, captured_plan_version,
			work_spec_hash, work_spec_payload, captured_by, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, snap.ID, snap.ProjectID, snap.TaskID, snap.LeaseID, snap.CapturedPlanVersion,
		snap.WorkSpecHash, payload, snap.CapturedBy, snap.CapturedAt)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, errs.DBError("create_snapshot", err)
	}
	return snap, nil
}

func (s *snapshotStore) GetByLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, error) {
	var snap domain.TaskExecutionSnapshot
	var payload []byte
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT id, project_id, task_id, lease_id, captured_plan_version,
			work_spec_hash, work_spec_payload, captured_by, captured_at
		FROM task_execution_snapshots WHERE lease_id = $1
	`, leaseID).Scan(&snap.ID, &snap.ProjectID, &snap.TaskID, &snap.LeaseID, &snap.CapturedPlanVersion,
		&snap.WorkSpecHash, &payload, &snap.CapturedBy, &snap.CapturedAt)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, notFound(err, func() *errs.Error {
			return errs.New(errs.CodeTaskNotFound, "snapshot not found for lease")
		})
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &snap.WorkSpecPayload); err != nil {
			return domain.TaskExecutionSnapshot{}, err
		}
	}
	return snap, nil
}
