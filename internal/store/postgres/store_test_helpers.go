package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/r3e-network/taskforge/internal/platform/migrations"

	_ "github.com/lib/pq"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	if err := migrations.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := resetTables(db); err != nil {
		t.Fatalf("reset tables: %v", err)
	}

	t.Cleanup(func() {
		_ = resetTables(db)
		_ = db.Close()
	})

	return New(db), context.Background()
}

func resetTables(db *sql.DB) error {
	_, err := db.Exec(`
		TRUNCATE
			integration_attempts,
			artifacts,
			api_keys,
			metrics_state_transition_counters,
			metrics_job_runs,
			metrics_job_checkpoints,
			event_log,
			gate_decisions,
			gate_rules,
			task_execution_snapshots,
			plan_changesets,
			plan_versions,
			reservations,
			leases,
			dependency_edges,
			tasks,
			milestones,
			phases,
			projects
		RESTART IDENTITY CASCADE
	`)
	return err
}
