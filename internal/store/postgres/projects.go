package postgres

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type projectStore Store

func (s *projectStore) parent() *Store { return (*Store)(s) }

func (s *projectStore) Create(ctx context.Context, p domain.Project) (domain.Project, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO projects (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Name, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Project{}, errs.DBError("create_project", err)
	}
	return p, nil
}

func (s *projectStore) Get(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Project{}, notFound(err, func() *errs.Error { return errs.ProjectNotFound(id) })
	}
	return p, nil
}

func (s *projectStore) List(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, name, status, created_at, updated_at FROM projects ORDER BY created_at
	`)
	if err != nil {
		return nil, errs.DBError("list_projects", err)
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errs.DBError("scan_project", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *projectStore) Update(ctx context.Context, p domain.Project) (domain.Project, error) {
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE projects SET name = $2, status = $3, updated_at = $4 WHERE id = $1
	`, p.ID, p.Name, p.Status, p.UpdatedAt)
	if err != nil {
		return domain.Project{}, errs.DBError("update_project", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Project{}, errs.ProjectNotFound(p.ID)
	}
	return p, nil
}

type phaseStore Store

func (s *phaseStore) parent() *Store { return (*Store)(s) }

func (s *phaseStore) Create(ctx context.Context, p domain.Phase) (domain.Phase, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO phases (id, project_id, name, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.ProjectID, p.Name, p.Sequence, p.CreatedAt)
	if err != nil {
		return domain.Phase{}, errs.DBError("create_phase", err)
	}
	return p, nil
}

func (s *phaseStore) Get(ctx context.Context, id string) (domain.Phase, error) {
	var p domain.Phase
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT id, project_id, name, sequence, created_at FROM phases WHERE id = $1
	`, id).Scan(&p.ID, &p.ProjectID, &p.Name, &p.Sequence, &p.CreatedAt)
	if err != nil {
		return domain.Phase{}, notFound(err, func() *errs.Error { return errs.New(errs.CodeProjectNotFound, "phase not found") })
	}
	p.UpdatedAt = p.CreatedAt
	return p, nil
}

func (s *phaseStore) ListByProject(ctx context.Context, projectID string) ([]domain.Phase, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, name, sequence, created_at FROM phases
		WHERE project_id = $1 ORDER BY sequence
	`, projectID)
	if err != nil {
		return nil, errs.DBError("list_phases", err)
	}
	defer rows.Close()

	var out []domain.Phase
	for rows.Next() {
		var p domain.Phase
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Sequence, &p.CreatedAt); err != nil {
			return nil, errs.DBError("scan_phase", err)
		}
		p.UpdatedAt = p.CreatedAt
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *phaseStore) SequenceTaken(ctx context.Context, projectID string, sequence int) (bool, error) {
	var exists bool
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM phases WHERE project_id = $1 AND sequence = $2)
	`, projectID, sequence).Scan(&exists)
	if err != nil {
		return false, errs.DBError("phase_sequence_taken", err)
	}
	return exists, nil
}

type milestoneStore Store

func (s *milestoneStore) parent() *Store { return (*Store)(s) }

func (s *milestoneStore) Create(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO milestones (id, project_id, phase_id, name, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.ProjectID, m.PhaseID, m.Name, m.Sequence, m.CreatedAt)
	if err != nil {
		return domain.Milestone{}, errs.DBError("create_milestone", err)
	}
	return m, nil
}

func (s *milestoneStore) Get(ctx context.Context, id string) (domain.Milestone, error) {
	var m domain.Milestone
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT id, project_id, phase_id, name, sequence, created_at FROM milestones WHERE id = $1
	`, id).Scan(&m.ID, &m.ProjectID, &m.PhaseID, &m.Name, &m.Sequence, &m.CreatedAt)
	if err != nil {
		return domain.Milestone{}, notFound(err, func() *errs.Error { return errs.New(errs.CodeProjectNotFound, "milestone not found") })
	}
	m.UpdatedAt = m.CreatedAt
	return m, nil
}

func (s *milestoneStore) ListByPhase(ctx context.Context, phaseID string) ([]domain.Milestone, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, phase_id, name, sequence, created_at FROM milestones
		WHERE phase_id = $1 ORDER BY sequence
	`, phaseID)
	if err != nil {
		return nil, errs.DBError("list_milestones", err)
	}
	defer rows.Close()

	var out []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.PhaseID, &m.Name, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, errs.DBError("scan_milestone", err)
		}
		m.UpdatedAt = m.CreatedAt
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *milestoneStore) SequenceTaken(ctx context.Context, phaseID string, sequence int) (bool, error) {
	var exists bool
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM milestones WHERE phase_id = $1 AND sequence = $2)
	`, phaseID, sequence).Scan(&exists)
	if err != nil {
		return false, errs.DBError("milestone_sequence_taken", err)
	}
	return exists, nil
}
