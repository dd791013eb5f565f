// Package metricsjob implements C9: a checkpointed, idempotent consumer of
// the project event log that materializes per-state transition counters,
// plus read-only reconciliation and forecasting helpers layered on top.
package metricsjob

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// Default scheduler cadences and per-run event limits, per mode.
const (
	DefaultBatchCadence    = 5 * time.Minute
	DefaultNRTCadence      = 15 * time.Second
	DefaultBatchSize       = 1000
	DefaultNRTBatchSize    = 200
)

// Materializer runs the incremental consumer for one (project, mode) pair
// at a time; callers schedule one per project per mode via cron.
type Materializer struct {
	store     store.Store
	mode      domain.MetricsMode
	batchSize int
	log       *logrus.Entry

	transitions *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// NewMaterializer wires a Materializer against registry. Both modes
// register collectors under the same metric names (the mode is a label),
// so at most one Materializer may register against a given registry; a
// nil registry skips registration.
func NewMaterializer(s store.Store, mode domain.MetricsMode, batchSize int, log *logrus.Logger, registry prometheus.Registerer) *Materializer {
	if batchSize <= 0 {
		if mode == domain.MetricsModeNearRealTime {
			batchSize = DefaultNRTBatchSize
		} else {
			batchSize = DefaultBatchSize
		}
	}
	m := &Materializer{
		store:     s,
		mode:      mode,
		batchSize: batchSize,
		log:       log.WithFields(logrus.Fields{"component": "metrics_materializer", "mode": string(mode)}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskforge_task_state_transitions_total",
			Help: "Count of task state transitions materialized from the event log.",
		}, []string{"project_id", "state", "mode"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "taskforge_metrics_run_duration_seconds",
			Help: "Duration of one metrics materializer run.",
		}, []string{"mode"}),
	}
	if registry != nil {
		registry.MustRegister(m.transitions, m.runDuration)
	}
	return m
}

// RunOnce consumes up to batchSize unconsumed task_state_transitioned
// events for projectID, advances the checkpoint, and records an
// idempotent MetricsJobRun keyed by idempotencyKey. Calling RunOnce again
// with the same idempotencyKey is a no-op that returns the prior run.
func (m *Materializer) RunOnce(ctx context.Context, projectID, idempotencyKey string, now time.Time) (domain.MetricsJobRun, error) {
	start := time.Now()
	var result domain.MetricsJobRun
	err := m.store.Atomic(ctx, func(ctx context.Context) error {
		if existing, ok, err := m.store.Metrics().GetRunByIdempotencyKey(ctx, projectID, idempotencyKey); err != nil {
			return err
		} else if ok {
			result = existing
			return nil
		}

		checkpoint, _, err := m.store.Metrics().GetCheckpoint(ctx, projectID, m.mode)
		if err != nil {
			return err
		}

		events, err := m.store.Events().ListFrom(ctx, projectID, "task", domain.EventTaskStateTransitioned, checkpoint.LastEventID+1, m.batchSize)
		if err != nil {
			return err
		}

		run := domain.MetricsJobRun{
			ProjectID:      projectID,
			Mode:           m.mode,
			IdempotencyKey: idempotencyKey,
			StartEventID:   checkpoint.LastEventID,
			CreatedAt:      now,
		}

		// Validate every event's to_state before upserting any counter.
		// UpsertCounter has no per-event dedup, so applying a prefix of the
		// batch and then bailing out would double-count that prefix on the
		// retry that follows an unmoved checkpoint.
		for _, e := range events {
			toState, ok := e.Payload["to_state"].(string)
			if !ok || !domain.TaskState(toState).Valid() {
				run.Status = domain.RunFailed
				run.EndEventID = checkpoint.LastEventID
				run.FailureReason = fmt.Sprintf("event %d: payload.to_state is missing or not a known task state", e.ID)
				run.CompletedAt = now
				created, cerr := m.store.Metrics().CreateRun(ctx, run)
				if cerr != nil {
					return cerr
				}
				result = created
				return errs.InvalidEventPayload(run.FailureReason)
			}
		}

		lastEventID := checkpoint.LastEventID
		for _, e := range events {
			toState := e.Payload["to_state"].(string)
			state := domain.TaskState(toState)
			if _, err := m.store.Metrics().UpsertCounter(ctx, projectID, state, e.ID, 1); err != nil {
				return err
			}
			m.transitions.WithLabelValues(projectID, toState, string(m.mode)).Inc()
			lastEventID = e.ID
		}

		run.EndEventID = lastEventID
		run.ProcessedEvents = len(events)
		run.Status = domain.RunSucceeded
		run.CompletedAt = now
		created, err := m.store.Metrics().CreateRun(ctx, run)
		if err != nil {
			return err
		}

		if err := m.store.Metrics().PutCheckpoint(ctx, domain.MetricsJobCheckpoint{
			ProjectID:     projectID,
			Mode:          m.mode,
			LastEventID:   lastEventID,
			LastSuccessAt: now,
		}); err != nil {
			return err
		}

		result = created
		return nil
	})
	m.runDuration.WithLabelValues(string(m.mode)).Observe(time.Since(start).Seconds())
	return result, err
}

// IdempotencyKey derives the deterministic per-tick key used by the
// scheduler in orchestratord, one per (project, mode, checkpoint cursor).
func IdempotencyKey(projectID string, mode domain.MetricsMode, fromEventID int64) string {
	return fmt.Sprintf("%s:%s:%d", projectID, mode, fromEventID)
}

// Recover re-derives counters for projectID from event id 0 forward,
// discarding and rebuilding existing counters. Used after detecting
// materializer drift; it is safe to run concurrently with ongoing
// RunOnce calls against a different idempotency key because it holds the
// store transaction for its own duration.
func (m *Materializer) Recover(ctx context.Context, projectID string, now time.Time) error {
	return m.store.Atomic(ctx, func(ctx context.Context) error {
		if err := m.store.Metrics().DeleteCounters(ctx, projectID); err != nil {
			return err
		}
		var fromID int64 = 1
		for {
			events, err := m.store.Events().ListFrom(ctx, projectID, "task", domain.EventTaskStateTransitioned, fromID, m.batchSize)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}
			for _, e := range events {
				toState, ok := e.Payload["to_state"].(string)
				if !ok || !domain.TaskState(toState).Valid() {
					return errs.InvalidEventPayload(fmt.Sprintf("event %d: payload.to_state is missing or not a known task state", e.ID))
				}
				if _, err := m.store.Metrics().UpsertCounter(ctx, projectID, domain.TaskState(toState), e.ID, 1); err != nil {
					return err
				}
				fromID = e.ID + 1
			}
		}
		return m.store.Metrics().PutCheckpoint(ctx, domain.MetricsJobCheckpoint{
			ProjectID:     projectID,
			Mode:          m.mode,
			LastEventID:   fromID - 1,
			LastSuccessAt: now,
		})
	})
}
