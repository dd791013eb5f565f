package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type apiKeyStore Store

func (s *apiKeyStore) parent() *Store { return (*Store)(s) }

func (s *apiKeyStore) Create(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	defer s.parent().lock(ctx)()
	if k.ID == "" {
		k.ID = newID()
	}
	s.parent().apiKeys[k.ID] = k
	return k, nil
}

func (s *apiKeyStore) GetByHash(ctx context.Context, hash string) (domain.ApiKey, bool, error) {
	defer s.parent().lock(ctx)()
	for _, k := range s.parent().apiKeys {
		if k.Hash == hash {
			return k, true, nil
		}
	}
	return domain.ApiKey{}, false, nil
}

func (s *apiKeyStore) Get(ctx context.Context, id string) (domain.ApiKey, error) {
	defer s.parent().lock(ctx)()
	k, ok := s.parent().apiKeys[id]
	if !ok {
		return domain.ApiKey{}, errs.New(errs.CodeAuthInvalid, "api key not found")
	}
	return k, nil
}

func (s *apiKeyStore) ListByProject(ctx context.Context, projectID string) ([]domain.ApiKey, error) {
	defer s.parent().lock(ctx)()
	var out []domain.ApiKey
	for _, k := range s.parent().apiKeys {
		if k.ProjectID == projectID || k.ProjectID == domain.GlobalProjectScope {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *apiKeyStore) Update(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().apiKeys[k.ID]; !ok {
		return domain.ApiKey{}, errs.New(errs.CodeAuthInvalid, "api key not found")
	}
	s.parent().apiKeys[k.ID] = k
	return k, nil
}

type artifactStore Store

func (s *artifactStore) parent() *Store { return (*Store)(s) }

func (s *artifactStore) Create(ctx context.Context, a domain.Artifact) (domain.Artifact, error) {
	defer s.parent().lock(ctx)()
	if a.ID == "" {
		a.ID = newID()
	}
	s.parent().artifacts[a.ID] = a
	return a, nil
}

func (s *artifactStore) ListByTask(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Artifact
	for _, a := range s.parent().artifacts {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

type integrationStore Store

func (s *integrationStore) parent() *Store { return (*Store)(s) }

func (s *integrationStore) Create(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error) {
	defer s.parent().lock(ctx)()
	if a.ID == "" {
		a.ID = newID()
	}
	s.parent().integrations[a.ID] = a
	return a, nil
}

func (s *integrationStore) Get(ctx context.Context, id string) (domain.IntegrationAttempt, error) {
	defer s.parent().lock(ctx)()
	a, ok := s.parent().integrations[id]
	if !ok {
		return domain.IntegrationAttempt{}, errs.IntegrationAttemptNotFound(id)
	}
	return a, nil
}

func (s *integrationStore) Update(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().integrations[a.ID]; !ok {
		return domain.IntegrationAttempt{}, errs.IntegrationAttemptNotFound(a.ID)
	}
	s.parent().integrations[a.ID] = a
	return a, nil
}

func (s *integrationStore) ListByTask(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error) {
	defer s.parent().lock(ctx)()
	var out []domain.IntegrationAttempt
	for _, a := range s.parent().integrations {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}
