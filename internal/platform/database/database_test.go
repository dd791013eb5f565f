package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/r3e-network/taskforge/pkg/errs"
)

func TestOpenRejectsBlankDSN(t *testing.T) {
	_, err := Open(context.Background(), "   ")
	if errs.GetCode(err) != errs.CodeDBError {
		t.Fatalf("expected DB_ERROR for a blank dsn, got %v", err)
	}
}

func TestConfigureAppliesOnlyNonZeroSettings(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://unused/db")
	if err != nil {
		t.Fatalf("sql.Open (no connection attempted): %v", err)
	}
	defer db.Close()

	Configure(db, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 3, ConnMaxLifetime: 5 * time.Minute})
	stats := db.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	// Zero-valued fields must leave the driver defaults untouched rather
	// than zeroing them out.
	Configure(db, PoolConfig{})
	stats = db.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Fatalf("expected a zero-valued PoolConfig to leave MaxOpenConnections at 10, got %d", stats.MaxOpenConnections)
	}
}
