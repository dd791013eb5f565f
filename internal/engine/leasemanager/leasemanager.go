// Package leasemanager implements C6: claim, heartbeat, assign/reserve,
// and release, plus the background expiration sweep.
package leasemanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// DefaultLeaseDuration and DefaultReservationTTL are the defaults named
// in the configuration table (§6). The lease duration is overridable per
// Manager through WithLeaseDuration; Manager does not read
// DefaultReservationTTL, since Assign takes its TTL as an argument.
const (
	DefaultLeaseDuration  = 5 * time.Minute
	DefaultReservationTTL = 1800 * time.Second
)

// Manager implements the claim/heartbeat/assign/release protocol.
type Manager struct {
	store         store.Store
	leaseDuration time.Duration
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLeaseDuration overrides the default lease lifetime (bounded 30s..60m
// by the caller; the manager does not itself clamp, so validate at the
// configuration boundary).
func WithLeaseDuration(d time.Duration) Option {
	return func(m *Manager) { m.leaseDuration = d }
}

func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{store: s, leaseDuration: DefaultLeaseDuration}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClaimResult bundles the three records a successful claim produces.
type ClaimResult struct {
	Task     domain.Task
	Lease    domain.Lease
	Snapshot domain.TaskExecutionSnapshot
}

// Claim executes §4.3's claim algorithm inside one transaction under the
// task's row lock.
func (m *Manager) Claim(ctx context.Context, projectID, taskID, agentID string, now time.Time) (ClaimResult, error) {
	var result ClaimResult
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		task, err := m.store.Tasks().LockForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return errs.TaskNotFound(taskID)
		}
		if task.State != domain.TaskReady && task.State != domain.TaskReserved {
			return errs.TaskNotClaimable(string(task.State))
		}
		if _, active, err := m.store.Leases().GetActiveByTask(ctx, taskID); err != nil {
			return err
		} else if active {
			return errs.LeaseExists(taskID)
		}

		reservation, hasReservation, err := m.store.Reservations().GetActiveByTask(ctx, taskID)
		if err != nil {
			return err
		}
		if hasReservation {
			if reservation.AssigneeAgentID != agentID {
				return errs.ReservationConflict(taskID)
			}
			reservation.Status = domain.ReservationConsumed
			reservation.ReleasedAt = &now
			if _, err := m.store.Reservations().Update(ctx, reservation); err != nil {
				return err
			}
		}

		prevCounter, err := m.store.Leases().LastFencingCounter(ctx, taskID)
		if err != nil {
			return err
		}
		token, err := randomToken()
		if err != nil {
			return err
		}
		lease, err := m.store.Leases().Create(ctx, domain.Lease{
			ProjectID:      projectID,
			TaskID:         taskID,
			AgentID:        agentID,
			Token:          token,
			Status:         domain.LeaseActive,
			ExpiresAt:      now.Add(m.leaseDuration),
			HeartbeatAt:    now,
			FencingCounter: prevCounter + 1,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		planVersion, err := m.store.Plans().CurrentVersion(ctx, projectID)
		if err != nil {
			return err
		}
		snapshot, err := m.store.Snapshots().Create(ctx, domain.TaskExecutionSnapshot{
			ProjectID:           projectID,
			TaskID:              taskID,
			LeaseID:             lease.ID,
			CapturedPlanVersion: planVersion,
			WorkSpecHash:        hashWorkSpec(task.WorkSpec),
			WorkSpecPayload:     task.WorkSpec,
			CapturedBy:          agentID,
			CapturedAt:          now,
		})
		if err != nil {
			return err
		}

		task.State = domain.TaskClaimed
		task.UpdatedAt = now
		task.Version++
		task, err = m.store.Tasks().Update(ctx, task)
		if err != nil {
			return err
		}

		result = ClaimResult{Task: task, Lease: lease, Snapshot: snapshot}
		return nil
	})
	return result, err
}

// HeartbeatResult is returned by Heartbeat on success.
type HeartbeatResult struct {
	Lease             domain.Lease
	CurrentPlanVersion int64
}

// Heartbeat extends an active lease. If seenPlanVersion is non-nil and
// stale relative to the project's current plan version, returns
// PLAN_STALE before touching the lease.
func (m *Manager) Heartbeat(ctx context.Context, projectID, taskID, agentID, token string, seenPlanVersion *int64, now time.Time) (HeartbeatResult, error) {
	var result HeartbeatResult
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := m.store.Tasks().LockForUpdate(ctx, taskID); err != nil {
			return err
		}
		current, err := m.store.Plans().CurrentVersion(ctx, projectID)
		if err != nil {
			return err
		}
		if seenPlanVersion != nil && *seenPlanVersion < current {
			return errs.PlanStale(current)
		}

		lease, ok, err := m.store.Leases().GetByTaskAgentToken(ctx, taskID, agentID, token)
		if err != nil {
			return err
		}
		if !ok || lease.Expired(now) {
			return errs.LeaseInvalid()
		}

		lease.HeartbeatAt = now
		lease.ExpiresAt = now.Add(m.leaseDuration)
		lease, err = m.store.Leases().Update(ctx, lease)
		if err != nil {
			return err
		}
		result = HeartbeatResult{Lease: lease, CurrentPlanVersion: current}
		return nil
	})
	return result, err
}

// Assign creates a hard reservation naming assigneeAgentID as the only
// agent permitted to subsequently claim the task.
func (m *Manager) Assign(ctx context.Context, projectID, taskID, assigneeAgentID, createdBy string, ttlSeconds int, now time.Time) (domain.Reservation, error) {
	if !domain.ValidTTL(ttlSeconds) {
		return domain.Reservation{}, errs.New(errs.CodeReservationConflict, "ttl_seconds out of bounds").WithDetail("ttl_seconds", ttlSeconds)
	}
	var result domain.Reservation
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		task, err := m.store.Tasks().LockForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return errs.TaskNotFound(taskID)
		}
		if task.State != domain.TaskReady && task.State != domain.TaskReserved {
			return errs.TaskNotAssignable(string(task.State))
		}
		if _, active, err := m.store.Leases().GetActiveByTask(ctx, taskID); err != nil {
			return err
		} else if active {
			return errs.LeaseExists(taskID)
		}
		if _, active, err := m.store.Reservations().GetActiveByTask(ctx, taskID); err != nil {
			return err
		} else if active {
			return errs.ReservationExists(taskID)
		}

		reservation, err := m.store.Reservations().Create(ctx, domain.Reservation{
			ProjectID:       projectID,
			TaskID:          taskID,
			AssigneeAgentID: assigneeAgentID,
			Status:          domain.ReservationActive,
			TTLSeconds:      ttlSeconds,
			ExpiresAt:       now.Add(time.Duration(ttlSeconds) * time.Second),
			CreatedBy:       createdBy,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}

		task.State = domain.TaskReserved
		task.UpdatedAt = now
		task.Version++
		if _, err := m.store.Tasks().Update(ctx, task); err != nil {
			return err
		}
		result = reservation
		return nil
	})
	return result, err
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.DBError("generate_lease_token", err)
	}
	return "tsk_" + hex.EncodeToString(buf), nil
}

