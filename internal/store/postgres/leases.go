package postgres

import (
	"context"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type leaseStore Store

func (s *leaseStore) parent() *Store { return (*Store)(s) }

const leaseColumns = `id, project_id, task_id, agent_id, token, status, expires_at,
	heartbeat_at, fencing_counter, created_at, released_at`

func scanLease(row interface{ Scan(...any) error }) (domain.Lease, error) {
	var l domain.Lease
	err := row.Scan(&l.ID, &l.ProjectID, &l.TaskID, &l.AgentID, &l.Token, &l.Status, &l.ExpiresAt,
		&l.HeartbeatAt, &l.FencingCounter, &l.CreatedAt, &l.ReleasedAt)
	return l, err
}

func (s *leaseStore) Create(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	if l.ID == "" {
		l.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO leases (`+leaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.ID, l.ProjectID, l.TaskID, l.AgentID, l.Token, l.Status, l.ExpiresAt,
		l.HeartbeatAt, l.FencingCounter, l.CreatedAt, l.ReleasedAt)
	if err != nil {
		return domain.Lease{}, errs.DBError("create_lease", err)
	}
	return l, nil
}

func (s *leaseStore) Update(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE leases SET status = $2, expires_at = $3, heartbeat_at = $4,
			fencing_counter = $5, released_at = $6
		WHERE id = $1
	`, l.ID, l.Status, l.ExpiresAt, l.HeartbeatAt, l.FencingCounter, l.ReleasedAt)
	if err != nil {
		return domain.Lease{}, errs.DBError("update_lease", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Lease{}, errs.LeaseInvalid()
	}
	return l, nil
}

func (s *leaseStore) GetActiveByTask(ctx context.Context, taskID string) (domain.Lease, bool, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases WHERE task_id = $1 AND status = $2
	`, taskID, domain.LeaseActive)
	l, err := scanLease(row)
	if err != nil {
		return domain.Lease{}, false, notFoundToBool(err)
	}
	return l, true, nil
}

func (s *leaseStore) GetByTaskAgentToken(ctx context.Context, taskID, agentID, token string) (domain.Lease, bool, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE task_id = $1 AND agent_id = $2 AND token = $3 AND status = $4
	`, taskID, agentID, token, domain.LeaseActive)
	l, err := scanLease(row)
	if err != nil {
		return domain.Lease{}, false, notFoundToBool(err)
	}
	return l, true, nil
}

func (s *leaseStore) LastFencingCounter(ctx context.Context, taskID string) (int64, error) {
	var max int64
	err := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(fencing_counter), 0) FROM leases WHERE task_id = $1
	`, taskID).Scan(&max)
	if err != nil {
		return 0, errs.DBError("last_fencing_counter", err)
	}
	return max, nil
}

func (s *leaseStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.LeaseActive, now, sqlLimit(limit))
	if err != nil {
		return nil, errs.DBError("list_expirable_leases", err)
	}
	defer rows.Close()

	var out []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, errs.DBError("scan_lease", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type reservationStore Store

func (s *reservationStore) parent() *Store { return (*Store)(s) }

const reservationColumns = `id, project_id, task_id, assignee_agent_id, status,
	ttl_seconds, expires_at, created_by, created_at, released_at`

func scanReservation(row interface{ Scan(...any) error }) (domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.ProjectID, &r.TaskID, &r.AssigneeAgentID, &r.Status,
		&r.TTLSeconds, &r.ExpiresAt, &r.CreatedBy, &r.CreatedAt, &r.ReleasedAt)
	return r, err
}

func (s *reservationStore) Create(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.parent().q(ctx).ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.ProjectID, r.TaskID, r.AssigneeAgentID, r.Status,
		r.TTLSeconds, r.ExpiresAt, r.CreatedBy, r.CreatedAt, r.ReleasedAt)
	if err != nil {
		return domain.Reservation{}, errs.DBError("create_reservation", err)
	}
	return r, nil
}

func (s *reservationStore) Update(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	result, err := s.parent().q(ctx).ExecContext(ctx, `
		UPDATE reservations SET status = $2, released_at = $3 WHERE id = $1
	`, r.ID, r.Status, r.ReleasedAt)
	if err != nil {
		return domain.Reservation{}, errs.DBError("update_reservation", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.Reservation{}, errs.New(errs.CodeReservationConflict, "reservation not found")
	}
	return r, nil
}

func (s *reservationStore) GetActiveByTask(ctx context.Context, taskID string) (domain.Reservation, bool, error) {
	row := s.parent().q(ctx).QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations WHERE task_id = $1 AND status = $2
	`, taskID, domain.ReservationActive)
	r, err := scanReservation(row)
	if err != nil {
		return domain.Reservation{}, false, notFoundToBool(err)
	}
	return r, true, nil
}

func (s *reservationStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := s.parent().q(ctx).QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.ReservationActive, now, sqlLimit(limit))
	if err != nil {
		return nil, errs.DBError("list_expirable_reservations", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, errs.DBError("scan_reservation", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// sqlLimit maps the store interface's "0 or negative means unbounded"
// convention onto a LIMIT clause, since Postgres has no such sentinel.
func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return 1 << 32
	}
	return int64(limit)
}
