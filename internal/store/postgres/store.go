// Package postgres implements the internal/store interfaces against a
// PostgreSQL backend, taking row locks in the project -> task ->
// lease/reservation -> event_log order (§5) inside a single
// *sql.Tx per Atomic call.
package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type txKeyType struct{}

var txKey = txKeyType{}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every
// per-entity store method run against whichever is active on ctx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL backend. Every per-entity store is a method
// set hung off *Store via a named-type-of-Store trick mirroring
// internal/store/memory.
type Store struct {
	db *sql.DB
}

// New constructs a Store using the provided, already-open connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Atomic runs fn inside one *sql.Tx, committing on a nil return and
// rolling back otherwise. Nested Atomic calls reuse the outer
// transaction rather than opening a second one.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.DBError("begin_tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.DBError("commit_tx", err)
	}
	return nil
}

func newID() string { return uuid.NewString() }

func notFound(err error, build func() *errs.Error) error {
	if err == sql.ErrNoRows {
		return build()
	}
	return errs.DBError("query", err)
}

// notFoundToBool adapts the "Get...(bool, error)" lookup shape: no row is
// not an error, any other failure is.
func notFoundToBool(err error) error {
	if err == sql.ErrNoRows {
		return nil
	}
	return errs.DBError("query", err)
}

func (s *Store) Projects() store.ProjectStore         { return (*projectStore)(s) }
func (s *Store) Phases() store.PhaseStore             { return (*phaseStore)(s) }
func (s *Store) Milestones() store.MilestoneStore     { return (*milestoneStore)(s) }
func (s *Store) Tasks() store.TaskStore               { return (*taskStore)(s) }
func (s *Store) Dependencies() store.DependencyStore  { return (*dependencyStore)(s) }
func (s *Store) Leases() store.LeaseStore             { return (*leaseStore)(s) }
func (s *Store) Reservations() store.ReservationStore { return (*reservationStore)(s) }
func (s *Store) Plans() store.PlanStore               { return (*planStore)(s) }
func (s *Store) Snapshots() store.SnapshotStore       { return (*snapshotStore)(s) }
func (s *Store) Gates() store.GateStore               { return (*gateStore)(s) }
func (s *Store) Events() store.EventStore             { return (*eventStore)(s) }
func (s *Store) Metrics() store.MetricsStore          { return (*metricsStore)(s) }
func (s *Store) ApiKeys() store.ApiKeyStore           { return (*apiKeyStore)(s) }
func (s *Store) Artifacts() store.ArtifactStore       { return (*artifactStore)(s) }
func (s *Store) Integrations() store.IntegrationStore { return (*integrationStore)(s) }
