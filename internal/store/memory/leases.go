package memory

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type leaseStore Store

func (s *leaseStore) parent() *Store { return (*Store)(s) }

func (s *leaseStore) Create(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	defer s.parent().lock(ctx)()
	if l.ID == "" {
		l.ID = newID()
	}
	s.parent().leases[l.ID] = l
	return l, nil
}

func (s *leaseStore) Update(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().leases[l.ID]; !ok {
		return domain.Lease{}, errs.LeaseInvalid()
	}
	s.parent().leases[l.ID] = l
	return l, nil
}

func (s *leaseStore) GetActiveByTask(ctx context.Context, taskID string) (domain.Lease, bool, error) {
	defer s.parent().lock(ctx)()
	for _, l := range s.parent().leases {
		if l.TaskID == taskID && l.Status == domain.LeaseActive {
			return l, true, nil
		}
	}
	return domain.Lease{}, false, nil
}

func (s *leaseStore) GetByTaskAgentToken(ctx context.Context, taskID, agentID, token string) (domain.Lease, bool, error) {
	defer s.parent().lock(ctx)()
	for _, l := range s.parent().leases {
		if l.TaskID == taskID && l.AgentID == agentID && l.Token == token && l.Status == domain.LeaseActive {
			return l, true, nil
		}
	}
	return domain.Lease{}, false, nil
}

func (s *leaseStore) LastFencingCounter(ctx context.Context, taskID string) (int64, error) {
	defer s.parent().lock(ctx)()
	var max int64
	for _, l := range s.parent().leases {
		if l.TaskID == taskID && l.FencingCounter > max {
			max = l.FencingCounter
		}
	}
	return max, nil
}

func (s *leaseStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Lease
	for _, l := range s.parent().leases {
		if l.Status == domain.LeaseActive && now.After(l.ExpiresAt) {
			out = append(out, l)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type reservationStore Store

func (s *reservationStore) parent() *Store { return (*Store)(s) }

func (s *reservationStore) Create(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	defer s.parent().lock(ctx)()
	if r.ID == "" {
		r.ID = newID()
	}
	s.parent().reservations[r.ID] = r
	return r, nil
}

func (s *reservationStore) Update(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().reservations[r.ID]; !ok {
		return domain.Reservation{}, errs.New(errs.CodeReservationConflict, "reservation not found")
	}
	s.parent().reservations[r.ID] = r
	return r, nil
}

func (s *reservationStore) GetActiveByTask(ctx context.Context, taskID string) (domain.Reservation, bool, error) {
	defer s.parent().lock(ctx)()
	for _, r := range s.parent().reservations {
		if r.TaskID == taskID && r.Status == domain.ReservationActive {
			return r, true, nil
		}
	}
	return domain.Reservation{}, false, nil
}

func (s *reservationStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	defer s.parent().lock(ctx)()
	var out []domain.Reservation
	for _, r := range s.parent().reservations {
		if r.Status == domain.ReservationActive && now.After(r.ExpiresAt) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
