package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type projectStore Store

func (s *projectStore) parent() *Store { return (*Store)(s) }

func (s *projectStore) Create(ctx context.Context, p domain.Project) (domain.Project, error) {
	defer s.parent().lock(ctx)()
	if p.ID == "" {
		p.ID = newID()
	}
	s.parent().projects[p.ID] = p
	return p, nil
}

func (s *projectStore) Get(ctx context.Context, id string) (domain.Project, error) {
	defer s.parent().lock(ctx)()
	p, ok := s.parent().projects[id]
	if !ok {
		return domain.Project{}, errs.ProjectNotFound(id)
	}
	return p, nil
}

func (s *projectStore) List(ctx context.Context) ([]domain.Project, error) {
	defer s.parent().lock(ctx)()
	out := make([]domain.Project, 0, len(s.parent().projects))
	for _, p := range s.parent().projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *projectStore) Update(ctx context.Context, p domain.Project) (domain.Project, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().projects[p.ID]; !ok {
		return domain.Project{}, errs.ProjectNotFound(p.ID)
	}
	s.parent().projects[p.ID] = p
	return p, nil
}

type phaseStore Store

func (s *phaseStore) parent() *Store { return (*Store)(s) }

func (s *phaseStore) Create(ctx context.Context, p domain.Phase) (domain.Phase, error) {
	defer s.parent().lock(ctx)()
	if p.ID == "" {
		p.ID = newID()
	}
	s.parent().phases[p.ID] = p
	return p, nil
}

func (s *phaseStore) Get(ctx context.Context, id string) (domain.Phase, error) {
	defer s.parent().lock(ctx)()
	p, ok := s.parent().phases[id]
	if !ok {
		return domain.Phase{}, errs.New(errs.CodeProjectNotFound, "phase not found")
	}
	return p, nil
}

func (s *phaseStore) ListByProject(ctx context.Context, projectID string) ([]domain.Phase, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Phase
	for _, p := range s.parent().phases {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *phaseStore) SequenceTaken(ctx context.Context, projectID string, sequence int) (bool, error) {
	defer s.parent().lock(ctx)()
	for _, p := range s.parent().phases {
		if p.ProjectID == projectID && p.Sequence == sequence {
			return true, nil
		}
	}
	return false, nil
}

type milestoneStore Store

func (s *milestoneStore) parent() *Store { return (*Store)(s) }

func (s *milestoneStore) Create(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	defer s.parent().lock(ctx)()
	if m.ID == "" {
		m.ID = newID()
	}
	s.parent().milestones[m.ID] = m
	return m, nil
}

func (s *milestoneStore) Get(ctx context.Context, id string) (domain.Milestone, error) {
	defer s.parent().lock(ctx)()
	m, ok := s.parent().milestones[id]
	if !ok {
		return domain.Milestone{}, errs.New(errs.CodeProjectNotFound, "milestone not found")
	}
	return m, nil
}

func (s *milestoneStore) ListByPhase(ctx context.Context, phaseID string) ([]domain.Milestone, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Milestone
	for _, m := range s.parent().milestones {
		if m.PhaseID == phaseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *milestoneStore) SequenceTaken(ctx context.Context, phaseID string, sequence int) (bool, error) {
	defer s.parent().lock(ctx)()
	for _, m := range s.parent().milestones {
		if m.PhaseID == phaseID && m.Sequence == sequence {
			return true, nil
		}
	}
	return false, nil
}
