package metricsjob

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/taskforge/internal/domain"
)

// Scheduler runs a Materializer on a fixed cadence across a fixed set of
// projects, deriving a fresh idempotency key each tick from the
// materializer's own checkpoint cursor so a crashed or overlapping run
// never double-counts.
type Scheduler struct {
	materializer *Materializer
	projectIDs   []string
	cadence      time.Duration
	log          *logrus.Entry
	cron         *cron.Cron
}

func NewScheduler(m *Materializer, projectIDs []string, cadence time.Duration, log *logrus.Logger) *Scheduler {
	if cadence <= 0 {
		if m.mode == domain.MetricsModeNearRealTime {
			cadence = DefaultNRTCadence
		} else {
			cadence = DefaultBatchCadence
		}
	}
	return &Scheduler{
		materializer: m,
		projectIDs:   projectIDs,
		cadence:      cadence,
		log:          log.WithFields(logrus.Fields{"component": "metrics_scheduler", "mode": string(m.mode)}),
	}
}

func (s *Scheduler) Name() string { return "metrics_materializer_" + string(s.materializer.mode) }

func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddJob("@every "+s.cadence.String(), cron.FuncJob(func() {
		s.tick(ctx)
	}))
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("cadence", s.cadence).Info("metrics scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, projectID := range s.projectIDs {
		checkpoint, _, err := s.materializer.store.Metrics().GetCheckpoint(ctx, projectID, s.materializer.mode)
		if err != nil {
			s.log.WithError(err).WithField("project_id", projectID).Warn("checkpoint lookup failed")
			continue
		}
		key := IdempotencyKey(projectID, s.materializer.mode, checkpoint.LastEventID+1)
		if _, err := s.materializer.RunOnce(ctx, projectID, key, now); err != nil {
			s.log.WithError(err).WithField("project_id", projectID).Warn("materializer run failed")
		}
	}
}
