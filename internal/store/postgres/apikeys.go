package postgres

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type apiKeyStore Store

func (s *apiKeyStore) parent() *Store { return (*Store)(s) }

const apiKeyColumns = `id, project_id, name, hash, status, role_scopes, capability_tags,
	created_by, created_at, last_used_at, revoked_at`

func scanApiKey(row interface{ Scan(...any) error }) (domain.ApiKey, error) {
	var k domain.ApiKey
	var roles []string
	err := row.Scan(&k.ID, &k.ProjectID, &k.Name, &k.Hash, &k.Status, pq.Array(&roles), pq.Array(&k.CapabilityTags),
		&k.CreatedBy, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
	if err != nil {
		return domain.ApiKey{}, err
	}
	k.RoleScopes = make([]domain.Role, len(roles))
	for i, r := range roles {
		k.RoleScopes[i] = domain.Role(r)
	}
	return k, nil
}

func roleStrings(roles []domain.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func (s *apiKeyStore) Create(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	if k.ID == "" {
		k.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, k.ID, k.ProjectID, k.Name, k.Hash, k.Status, pq.Array(roleStrings(k.RoleScopes)), pq.Array(k.CapabilityTags),
		k.CreatedBy, k.CreatedAt, k.LastUsedAt, k.RevokedAt)
	if err != nil {
		return domain.ApiKey{}, errs.DBError("create_api_key", err)
	}
	return k, nil
}

func (s *apiKeyStore) GetByHash(ctx context.Context, hash string) (domain.ApiKey, bool, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE hash = $1`, hash)
	k, err := scanApiKey(row)
	if err != nil {
		return domain.ApiKey{}, false, notFoundToBool(err)
	}
	return k, true, nil
}

func (s *apiKeyStore) Get(ctx context.Context, id string) (domain.ApiKey, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	k, err := scanApiKey(row)
	if err != nil {
		return domain.ApiKey{}, notFound(err, func() *errs.Error { return errs.New(errs.CodeAuthInvalid, "api key not found") })
	}
	return k, nil
}

func (s *apiKeyStore) ListByProject(ctx context.Context, projectID string) ([]domain.ApiKey, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE project_id = $1 OR project_id = $2
	`, projectID, domain.GlobalProjectScope)
	if err != nil {
		return nil, errs.DBError("list_api_keys", err)
	}
	defer rows.Close()

	var out []domain.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, errs.DBError("scan_api_key", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *apiKeyStore) Update(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE api_keys SET status = $2, role_scopes = $3, capability_tags = $4,
			last_used_at = $5, revoked_at = $6
		WHERE id = $1
	`, k.ID, k.Status, pq.Array(roleStrings(k.RoleScopes)), pq.Array(k.CapabilityTags), k.LastUsedAt, k.RevokedAt)
	if err != nil {
		return domain.ApiKey{}, errs.DBError("update_api_key", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ApiKey{}, errs.New(errs.CodeAuthInvalid, "api key not found")
	}
	return k, nil
}

type artifactStore Store

func (s *artifactStore) parent() *Store { return (*Store)(s) }

func (s *artifactStore) Create(ctx context.Context, a domain.Artifact) (domain.Artifact, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, task_id, kind, uri, sha256, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.ProjectID, a.TaskID, a.Kind, a.URI, a.SHA256, a.CreatedBy, a.CreatedAt)
	if err != nil {
		return domain.Artifact{}, errs.DBError("create_artifact", err)
	}
	return a, nil
}

func (s *artifactStore) ListByTask(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT id, project_id, task_id, kind, uri, sha256, created_by, created_at
		FROM artifacts WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, errs.DBError("list_artifacts", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.Kind, &a.URI, &a.SHA256, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, errs.DBError("scan_artifact", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type integrationStore Store

func (s *integrationStore) parent() *Store { return (*Store)(s) }

const integrationColumns = `id, project_id, task_id, status, result_payload,
	created_by, started_at, completed_at, created_at`

func scanIntegration(row interface{ Scan(...any) error }) (domain.IntegrationAttempt, error) {
	var a domain.IntegrationAttempt
	var payload []byte
	err := row.Scan(&a.ID, &a.ProjectID, &a.TaskID, &a.Status, &payload,
		&a.CreatedBy, &a.StartedAt, &a.CompletedAt, &a.CreatedAt)
	if err != nil {
		return domain.IntegrationAttempt{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.ResultPayload); err != nil {
			return domain.IntegrationAttempt{}, err
		}
	}
	return a, nil
}

func (s *integrationStore) Create(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	payload, err := json.Marshal(a.ResultPayload)
	if err != nil {
		return domain.IntegrationAttempt{}, errs.InvalidEventPayload("result_payload: " + err.Error())
	}
	_, err = s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO integration_attempts (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.ProjectID, a.TaskID, a.Status, payload, a.CreatedBy, a.StartedAt, a.CompletedAt, a.CreatedAt)
	if err != nil {
		return domain.IntegrationAttempt{}, errs.DBError("create_integration_attempt", err)
	}
	return a, nil
}

func (s *integrationStore) Get(ctx context.Context, id string) (domain.IntegrationAttempt, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integration_attempts WHERE id = $1`, id)
	a, err := scanIntegration(row)
	if err != nil {
		return domain.IntegrationAttempt{}, notFound(err, func() *errs.Error { return errs.IntegrationAttemptNotFound(id) })
	}
	return a, nil
}

func (s *integrationStore) Update(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error) {
	payload, err := json.Marshal(a.ResultPayload)
	if err != nil {
		return domain.IntegrationAttempt{}, errs.InvalidEventPayload("result_payload: " + err.Error())
	}
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE integration_attempts SET status = $2, result_payload = $3, started_at = $4, completed_at = $5
		WHERE id = $1
	`, a.ID, a.Status, payload, a.StartedAt, a.CompletedAt)
	if err != nil {
		return domain.IntegrationAttempt{}, errs.DBError("update_integration_attempt", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.IntegrationAttempt{}, errs.IntegrationAttemptNotFound(a.ID)
	}
	return a, nil
}

func (s *integrationStore) ListByTask(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT `+integrationColumns+` FROM integration_attempts WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, errs.DBError("list_integration_attempts", err)
	}
	defer rows.Close()

	var out []domain.IntegrationAttempt
	for rows.Next() {
		a, err := scanIntegration(rows)
		if err != nil {
			return nil, errs.DBError("scan_integration_attempt", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
