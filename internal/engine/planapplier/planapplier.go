// Package planapplier implements C8: plan versioning and changeset
// application, classifying each operation as material or cosmetic and
// invalidating in-flight claims/reservations accordingly.
package planapplier

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// materialFields and cosmeticFields classify update_task payload keys.
// Per the open question in the design notes, classification is never
// inferred from field names generically -- it is an explicit table. An
// update_task field in neither table is rejected by applyTaskUpdate, and
// an operation type with no case in Apply is rejected rather than assumed
// cosmetic.
var materialFields = map[string]bool{
	"work_spec":        true,
	"task_class":       true,
	"capability_tags":  true,
	"expected_touches": true,
	"exclusive_paths":  true,
	"shared_paths":     true,
}

var cosmeticFields = map[string]bool{
	"title":       true,
	"description": true,
	"priority":    true,
}

// Engine applies plan changesets against a store backend.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Result is returned by Apply on success.
type Result struct {
	ChangeSet                     domain.PlanChangeSet
	PlanVersion                   domain.PlanVersion
	InvalidatedClaimTaskIDs       []string
	InvalidatedReservationTaskIDs []string
}

// Apply executes §4.4's algorithm inside one transaction.
func (e *Engine) Apply(ctx context.Context, changesetID string, allowRebase bool, appliedBy string, now time.Time) (Result, error) {
	var result Result
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		cs, err := e.store.Plans().GetChangeSet(ctx, changesetID)
		if err != nil {
			return err
		}
		if cs.Status == domain.ChangeSetApplied {
			// Idempotent re-apply: no-op, return the existing record.
			result.ChangeSet = cs
			return nil
		}

		current, err := e.store.Plans().CurrentVersion(ctx, cs.ProjectID)
		if err != nil {
			return err
		}
		if cs.BasePlanVersion != current && !allowRebase {
			return errs.PlanStale(current)
		}

		materiallyTouched := map[string]bool{}

		for _, op := range cs.Operations {
			switch op.Op {
			case domain.OpReprioritizeTask:
				if op.TaskID == nil {
					return errs.InvalidEventPayload("reprioritize_task requires task_id")
				}
				task, err := e.store.Tasks().LockForUpdate(ctx, *op.TaskID)
				if err != nil {
					return err
				}
				if priority, ok := op.Payload["priority"].(float64); ok {
					task.Priority = int(priority)
				}
				task.UpdatedAt = now
				task.Version++
				if _, err := e.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
			case domain.OpUpdateTask:
				if op.TaskID == nil {
					return errs.InvalidEventPayload("update_task requires task_id")
				}
				task, err := e.store.Tasks().LockForUpdate(ctx, *op.TaskID)
				if err != nil {
					return err
				}
				material, err := applyTaskUpdate(&task, op.Payload)
				if err != nil {
					return err
				}
				task.UpdatedAt = now
				task.Version++
				if _, err := e.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
				if material {
					materiallyTouched[task.ID] = true
				}
			default:
				return errs.InvalidEventPayload("unrecognized changeset operation: " + string(op.Op))
			}
		}

		for taskID := range materiallyTouched {
			task, err := e.store.Tasks().LockForUpdate(ctx, taskID)
			if err != nil {
				return err
			}
			switch task.State {
			case domain.TaskClaimed:
				if lease, ok, err := e.store.Leases().GetActiveByTask(ctx, taskID); err != nil {
					return err
				} else if ok {
					lease.Status = domain.LeaseReleased
					lease.ReleasedAt = &now
					if _, err := e.store.Leases().Update(ctx, lease); err != nil {
						return err
					}
				}
				task.State = domain.TaskReady
				task.UpdatedAt = now
				task.Version++
				if _, err := e.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
				result.InvalidatedClaimTaskIDs = append(result.InvalidatedClaimTaskIDs, taskID)
			case domain.TaskReserved:
				if res, ok, err := e.store.Reservations().GetActiveByTask(ctx, taskID); err != nil {
					return err
				} else if ok {
					res.Status = domain.ReservationReleased
					res.ReleasedAt = &now
					if _, err := e.store.Reservations().Update(ctx, res); err != nil {
						return err
					}
				}
				task.State = domain.TaskReady
				task.UpdatedAt = now
				task.Version++
				if _, err := e.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
				result.InvalidatedReservationTaskIDs = append(result.InvalidatedReservationTaskIDs, taskID)
			}
		}

		targetVersion := cs.TargetPlanVersion
		if current+1 > targetVersion {
			targetVersion = current + 1
		}
		planVersion, err := e.store.Plans().CreateVersion(ctx, domain.PlanVersion{
			ProjectID:     cs.ProjectID,
			VersionNumber: targetVersion,
			ChangeSetID:   &cs.ID,
			Summary:       "changeset " + cs.ID,
			CreatedBy:     appliedBy,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		cs.Status = domain.ChangeSetApplied
		cs.AppliedAt = &now
		cs, err = e.store.Plans().UpdateChangeSet(ctx, cs)
		if err != nil {
			return err
		}

		if _, err := e.store.Events().Append(ctx, domain.EventLog{
			ProjectID:  cs.ProjectID,
			EntityType: "plan_changeset",
			EntityID:   &cs.ID,
			EventType:  domain.EventChangesetApplied,
			Payload: map[string]any{
				"plan_version":                     planVersion.VersionNumber,
				"invalidated_claim_task_ids":        result.InvalidatedClaimTaskIDs,
				"invalidated_reservation_task_ids":  result.InvalidatedReservationTaskIDs,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result.ChangeSet = cs
		result.PlanVersion = planVersion
		return nil
	})
	return result, err
}

// applyTaskUpdate patches fields named in payload onto task, returning
// true iff any patched field is classified material. A field absent from
// both the material and cosmetic tables is rejected rather than silently
// treated as cosmetic.
func applyTaskUpdate(task *domain.Task, payload map[string]any) (bool, error) {
	material := false
	for field, value := range payload {
		if !materialFields[field] && !cosmeticFields[field] {
			return false, errs.InvalidEventPayload("unclassified update_task field: " + field)
		}
		if materialFields[field] {
			material = true
		}
		switch field {
		case "work_spec":
			if m, ok := value.(map[string]any); ok {
				task.WorkSpec = domain.WorkSpec(m)
			}
		case "task_class":
			if s, ok := value.(string); ok {
				task.TaskClass = domain.TaskClass(s)
			}
		case "capability_tags":
			task.CapabilityTags = toStringSlice(value)
		case "exclusive_paths":
			task.ExclusivePaths = toStringSlice(value)
		case "shared_paths":
			task.SharedPaths = toStringSlice(value)
		case "title":
			if s, ok := value.(string); ok {
				task.Title = s
			}
		case "priority":
			if f, ok := value.(float64); ok {
				task.Priority = int(f)
			}
		}
	}
	return material, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
