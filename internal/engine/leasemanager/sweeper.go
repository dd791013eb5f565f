package leasemanager

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/store"
)

// DefaultSweepInterval is the cadence named in §4.3 ("cadence <= 30s").
const DefaultSweepInterval = 30 * time.Second

// sweepBatchSize bounds how many expirable leases/reservations a single
// sweep tick processes, keeping the sweep transaction small.
const sweepBatchSize = 500

// Sweeper is the single-writer background service that expires leases and
// reservations whose wall-clock deadline has passed, reverting their
// tasks to ready (§4.3). It never runs concurrently with itself within a
// process: the cron scheduler below wraps its one job in
// SkipIfStillRunning, so a tick that fires while the previous sweep is
// still running is skipped.
type Sweeper struct {
	store    store.Store
	log      *logrus.Entry
	interval time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
}

func NewSweeper(s store.Store, log *logrus.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    s,
		log:      log.WithField("component", "lease_sweeper"),
		interval: interval,
	}
}

func (s *Sweeper) Name() string { return "lease_expiration_sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := cron.Every(s.interval)
	entryID := s.cron.Schedule(spec, cron.FuncJob(func() {
		if err := s.sweepOnce(ctx); err != nil {
			s.log.WithError(err).Warn("sweep cycle failed")
		}
	}))
	s.entryID = entryID
	s.cron.Start()
	s.log.WithField("interval", s.interval).Info("lease sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("lease sweeper stopped")
	return nil
}

// sweepOnce expires overdue leases and reservations across all projects
// in one transaction, at most sweepBatchSize of each per call; any beyond
// that are left for later ticks.
func (s *Sweeper) sweepOnce(ctx context.Context) error {
	now := time.Now().UTC()
	expiredLeases := 0
	expiredReservations := 0

	err := s.store.Atomic(ctx, func(ctx context.Context) error {
		leases, err := s.store.Leases().ListExpirable(ctx, now, sweepBatchSize)
		if err != nil {
			return err
		}
		for _, lease := range leases {
			lease.Status = domain.LeaseExpired
			if _, err := s.store.Leases().Update(ctx, lease); err != nil {
				return err
			}
			task, err := s.store.Tasks().LockForUpdate(ctx, lease.TaskID)
			if err != nil {
				return err
			}
			if task.State == domain.TaskClaimed || task.State == domain.TaskInProgress {
				task.State = domain.TaskReady
				task.UpdatedAt = now
				task.Version++
				if _, err := s.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
			}
			if _, err := s.store.Events().Append(ctx, domain.EventLog{
				ProjectID:  lease.ProjectID,
				EntityType: "task",
				EntityID:   &lease.TaskID,
				EventType:  domain.EventLeaseExpired,
				Payload:    map[string]any{"lease_id": lease.ID, "agent_id": lease.AgentID},
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			expiredLeases++
		}

		reservations, err := s.store.Reservations().ListExpirable(ctx, now, sweepBatchSize)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			res.Status = domain.ReservationExpired
			if _, err := s.store.Reservations().Update(ctx, res); err != nil {
				return err
			}
			task, err := s.store.Tasks().LockForUpdate(ctx, res.TaskID)
			if err != nil {
				return err
			}
			if task.State == domain.TaskReserved {
				task.State = domain.TaskReady
				task.UpdatedAt = now
				task.Version++
				if _, err := s.store.Tasks().Update(ctx, task); err != nil {
					return err
				}
			}
			if _, err := s.store.Events().Append(ctx, domain.EventLog{
				ProjectID:  res.ProjectID,
				EntityType: "task",
				EntityID:   &res.TaskID,
				EventType:  domain.EventReservationExpired,
				Payload:    map[string]any{"reservation_id": res.ID, "assignee_agent_id": res.AssigneeAgentID},
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			expiredReservations++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expiredLeases > 0 || expiredReservations > 0 {
		s.log.WithFields(logrus.Fields{
			"expired_leases":       expiredLeases,
			"expired_reservations": expiredReservations,
		}).Info("sweep cycle completed")
	}
	return nil
}
