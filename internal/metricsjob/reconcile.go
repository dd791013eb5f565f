package metricsjob

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
)

// Discrepancy names one materialized counter whose value disagrees with
// a from-scratch recount of the event log.
type Discrepancy struct {
	State       domain.TaskState `json:"state"`
	Materialized int64           `json:"materialized_count"`
	Recounted   int64            `json:"recounted_count"`
}

// Reconcile recomputes transition counts for projectID directly from the
// event log and compares them against the materializer's stored
// counters, without mutating either. It is the read-only counterpart to
// Recover, intended for an operator to run before deciding whether a
// Recover is warranted.
func Reconcile(ctx context.Context, s store.Store, projectID string) ([]Discrepancy, error) {
	stored, err := s.Metrics().ListCounters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storedByState := make(map[domain.TaskState]int64, len(stored))
	for _, c := range stored {
		storedByState[c.State] = c.TransitionCount
	}

	recounted := make(map[domain.TaskState]int64)
	var fromID int64 = 1
	const batch = 1000
	for {
		events, err := s.Events().ListFrom(ctx, projectID, "task", domain.EventTaskStateTransitioned, fromID, batch)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}
		for _, e := range events {
			if toState, ok := e.Payload["to_state"].(string); ok {
				recounted[domain.TaskState(toState)]++
			}
			fromID = e.ID + 1
		}
	}

	seen := make(map[domain.TaskState]bool)
	var discrepancies []Discrepancy
	for state, count := range recounted {
		seen[state] = true
		if storedByState[state] != count {
			discrepancies = append(discrepancies, Discrepancy{State: state, Materialized: storedByState[state], Recounted: count})
		}
	}
	for state, count := range storedByState {
		if !seen[state] && count != 0 {
			discrepancies = append(discrepancies, Discrepancy{State: state, Materialized: count, Recounted: 0})
		}
	}
	return discrepancies, nil
}
