package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type gateStore Store

func (s *gateStore) parent() *Store { return (*Store)(s) }

func (s *gateStore) CreateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	defer s.parent().lock(ctx)()
	if r.ID == "" {
		r.ID = newID()
	}
	s.parent().gateRules[r.ID] = r
	return r, nil
}

func (s *gateStore) GetRule(ctx context.Context, id string) (domain.GateRule, error) {
	defer s.parent().lock(ctx)()
	r, ok := s.parent().gateRules[id]
	if !ok {
		return domain.GateRule{}, errs.GateRuleNotFound(id)
	}
	return r, nil
}

func (s *gateStore) ListRulesByProject(ctx context.Context, projectID string) ([]domain.GateRule, error) {
	defer s.parent().lock(ctx)()
	var out []domain.GateRule
	for _, r := range s.parent().gateRules {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *gateStore) CreateDecision(ctx context.Context, d domain.GateDecision) (domain.GateDecision, error) {
	defer s.parent().lock(ctx)()
	if d.ID == "" {
		d.ID = newID()
	}
	s.parent().gateDecisions[d.ID] = d
	return d, nil
}

func (s *gateStore) ListDecisionsByTask(ctx context.Context, taskID string) ([]domain.GateDecision, error) {
	defer s.parent().lock(ctx)()
	var out []domain.GateDecision
	for _, d := range s.parent().gateDecisions {
		if d.TaskID != nil && *d.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *gateStore) ListDecisionsByPhase(ctx context.Context, phaseID string) ([]domain.GateDecision, error) {
	defer s.parent().lock(ctx)()
	var out []domain.GateDecision
	for _, d := range s.parent().gateDecisions {
		if d.PhaseID != nil && *d.PhaseID == phaseID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *gateStore) ListDecisions(ctx context.Context, projectID string) ([]domain.GateDecision, error) {
	defer s.parent().lock(ctx)()
	var out []domain.GateDecision
	for _, d := range s.parent().gateDecisions {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *gateStore) OpenGateExists(ctx context.Context, projectID string, trigger domain.PolicyTrigger, scopeKey string) (bool, error) {
	defer s.parent().lock(ctx)()
	for _, t := range s.parent().tasks {
		if t.ProjectID != projectID || t.State.Terminal() {
			continue
		}
		if !t.TaskClass.IsGateClass() {
			continue
		}
		gotTrigger, _ := t.WorkSpec["policy_trigger"].(string)
		gotScope, _ := t.WorkSpec["policy_scope_key"].(string)
		if gotTrigger == string(trigger) && gotScope == scopeKey {
			return true, nil
		}
	}
	return false, nil
}
