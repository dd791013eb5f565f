// Package authkernel implements C10: bearer-token authentication against
// SHA-256 hashed ApiKey records, role- and project-scope authorization,
// and best-effort audit logging of denials.
package authkernel

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// Kernel authenticates bearer credentials and authorizes scoped actions.
type Kernel struct {
	store store.Store
}

func New(s store.Store) *Kernel {
	return &Kernel{store: s}
}

// HashToken computes the canonical SHA-256 hex digest stored against an
// ApiKey; the plaintext token is never itself persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateToken mints a new random bearer token and its stored hash. The
// plaintext is returned to the caller exactly once.
func GenerateToken() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errs.DBError("generate_api_token", err)
	}
	plaintext = "tfk_" + hex.EncodeToString(buf)
	return plaintext, HashToken(plaintext), nil
}

// Authenticate resolves a raw "Authorization: Bearer <token>" header value
// (or a bare token) into an AuthContext, rejecting missing, unknown, or
// revoked credentials.
func (k *Kernel) Authenticate(ctx context.Context, authorizationHeader string) (domain.AuthContext, error) {
	token := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, "Bearer"))
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.AuthContext{}, errs.AuthMissing()
	}

	hash := HashToken(token)
	key, ok, err := k.store.ApiKeys().GetByHash(ctx, hash)
	if err != nil {
		return domain.AuthContext{}, err
	}
	if !ok || key.Status != domain.ApiKeyActive {
		return domain.AuthContext{}, errs.AuthInvalid()
	}
	// constant-time confirmation guards against any timing signal the
	// lookup path might otherwise leak on hash comparison.
	if subtle.ConstantTimeCompare([]byte(key.Hash), []byte(hash)) != 1 {
		return domain.AuthContext{}, errs.AuthInvalid()
	}

	now := time.Now().UTC()
	key.LastUsedAt = &now
	if _, err := k.store.ApiKeys().Update(ctx, key); err != nil {
		return domain.AuthContext{}, err
	}

	return domain.AuthContext{
		ApiKeyID:       key.ID,
		ProjectID:      key.ProjectID,
		Name:           key.Name,
		RoleScopes:     key.RoleScopes,
		CapabilityTags: key.CapabilityTags,
	}, nil
}

// Authorize checks that auth carries at least one of requiredRoles and is
// scoped to projectID, emitting a best-effort auth_denied event on
// failure. A logging failure here never masks the original auth error.
func (k *Kernel) Authorize(ctx context.Context, auth domain.AuthContext, projectID string, requiredRoles ...domain.Role) error {
	if !auth.ScopedTo(projectID) {
		k.auditDenied(ctx, auth, projectID, "project_scope_violation")
		return errs.ProjectScopeViolation()
	}
	if len(requiredRoles) > 0 && !hasAnyRole(auth.RoleScopes, requiredRoles) {
		k.auditDenied(ctx, auth, projectID, "insufficient_role")
		names := make([]string, len(requiredRoles))
		for i, r := range requiredRoles {
			names[i] = string(r)
		}
		return errs.InsufficientRole(names)
	}
	return nil
}

// AuthorizeCapability additionally checks that auth's optional capability
// filter admits a task carrying taskCapabilityTags; only meaningful for
// role=agent callers acting on a specific task.
func (k *Kernel) AuthorizeCapability(ctx context.Context, auth domain.AuthContext, projectID string, taskCapabilityTags []string, requiredRoles ...domain.Role) error {
	if err := k.Authorize(ctx, auth, projectID, requiredRoles...); err != nil {
		return err
	}
	if !auth.AllowsCapability(taskCapabilityTags) {
		k.auditDenied(ctx, auth, projectID, "capability_scope_violation")
		return errs.ProjectScopeViolation()
	}
	return nil
}

func (k *Kernel) auditDenied(ctx context.Context, auth domain.AuthContext, projectID, reason string) {
	entityID := auth.ApiKeyID
	_, _ = k.store.Events().Append(ctx, domain.EventLog{
		ProjectID:  projectID,
		EntityType: "api_key",
		EntityID:   &entityID,
		EventType:  domain.EventAuthDenied,
		Payload:    map[string]any{"reason": reason, "api_key_id": auth.ApiKeyID},
		CreatedAt:  time.Now().UTC(),
	})
}

// hasAnyRole reports whether have satisfies want: either have contains one
// of the roles in want, or have carries domain.RoleAdmin, which is always
// in scope regardless of which roles want lists.
func hasAnyRole(have []domain.Role, want []domain.Role) bool {
	set := make(map[domain.Role]struct{}, len(have))
	for _, r := range have {
		if r == domain.RoleAdmin {
			return true
		}
		set[r] = struct{}{}
	}
	for _, r := range want {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
