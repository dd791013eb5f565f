package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type gateStore Store

func (s *gateStore) parent() *Store { return (*Store)(s) }

const gateRuleColumns = `id, project_id, name, scope_task_id, scope_phase_id,
	required_evidence, required_reviewer_roles, created_by, created_at`

func scanGateRule(row interface{ Scan(...any) error }) (domain.GateRule, error) {
	var r domain.GateRule
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.ScopeTaskID, &r.ScopePhaseID,
		pq.Array(&r.RequiredEvidence), pq.Array(&r.RequiredReviewerRoles), &r.CreatedBy, &r.CreatedAt)
	return r, err
}

func (s *gateStore) CreateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO gate_rules (`+gateRuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.ProjectID, r.Name, r.ScopeTaskID, r.ScopePhaseID,
		pq.Array(r.RequiredEvidence), pq.Array(r.RequiredReviewerRoles), r.CreatedBy, r.CreatedAt)
	if err != nil {
		return domain.GateRule{}, errs.DBError("create_gate_rule", err)
	}
	return r, nil
}

func (s *gateStore) GetRule(ctx context.Context, id string) (domain.GateRule, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+gateRuleColumns+` FROM gate_rules WHERE id = $1`, id)
	r, err := scanGateRule(row)
	if err != nil {
		return domain.GateRule{}, notFound(err, func() *errs.Error { return errs.GateRuleNotFound(id) })
	}
	return r, nil
}

func (s *gateStore) ListRulesByProject(ctx context.Context, projectID string) ([]domain.GateRule, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+gateRuleColumns+` FROM gate_rules WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, errs.DBError("list_gate_rules", err)
	}
	defer rows.Close()

	var out []domain.GateRule
	for rows.Next() {
		r, err := scanGateRule(rows)
		if err != nil {
			return nil, errs.DBError("scan_gate_rule", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const gateDecisionColumns = `id, project_id, gate_rule_id, task_id, phase_id,
	outcome, notes, decided_by, created_at`

func scanGateDecision(row interface{ Scan(...any) error }) (domain.GateDecision, error) {
	var d domain.GateDecision
	err := row.Scan(&d.ID, &d.ProjectID, &d.GateRuleID, &d.TaskID, &d.PhaseID,
		&d.Outcome, &d.Notes, &d.DecidedBy, &d.CreatedAt)
	return d, err
}

func collectGateDecisions(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.GateDecision, error) {
	var out []domain.GateDecision
	for rows.Next() {
		d, err := scanGateDecision(rows)
		if err != nil {
			return nil, errs.DBError("scan_gate_decision", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *gateStore) CreateDecision(ctx context.Context, d domain.GateDecision) (domain.GateDecision, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO gate_decisions (`+gateDecisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.ProjectID, d.GateRuleID, d.TaskID, d.PhaseID, d.Outcome, d.Notes, d.DecidedBy, d.CreatedAt)
	if err != nil {
		return domain.GateDecision{}, errs.DBError("create_gate_decision", err)
	}
	return d, nil
}

func (s *gateStore) ListDecisionsByTask(ctx context.Context, taskID string) ([]domain.GateDecision, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+gateDecisionColumns+` FROM gate_decisions WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, errs.DBError("list_gate_decisions_by_task", err)
	}
	defer rows.Close()
	return collectGateDecisions(rows)
}

func (s *gateStore) ListDecisionsByPhase(ctx context.Context, phaseID string) ([]domain.GateDecision, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+gateDecisionColumns+` FROM gate_decisions WHERE phase_id = $1`, phaseID)
	if err != nil {
		return nil, errs.DBError("list_gate_decisions_by_phase", err)
	}
	defer rows.Close()
	return collectGateDecisions(rows)
}

func (s *gateStore) ListDecisions(ctx context.Context, projectID string) ([]domain.GateDecision, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `SELECT `+gateDecisionColumns+` FROM gate_decisions WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, errs.DBError("list_gate_decisions", err)
	}
	defer rows.Close()
	return collectGateDecisions(rows)
}

// OpenGateExists mirrors the in-memory store's convention of encoding a
// policy-emitted gate task's trigger and scope key inside its work_spec
// JSON document, rather than as dedicated columns.
func (s *gateStore) OpenGateExists(ctx context.Context, projectID string, trigger domain.PolicyTrigger, scopeKey string) (bool, error) {
	var exists bool
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tasks
			WHERE project_id = $1
				AND state NOT IN ($2, $3, $4)
				AND work_spec->>'policy_trigger' = $5
				AND work_spec->>'policy_scope_key' = $6
		)
	`, projectID, domain.TaskIntegrated, domain.TaskCancelled, domain.TaskAbandoned, string(trigger), scopeKey).Scan(&exists)
	if err != nil {
		return false, errs.DBError("open_gate_exists", err)
	}
	return exists, nil
}
