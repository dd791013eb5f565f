// Command orchestratord runs the Taskforge orchestrator core: an
// in-process dependency engine, lease/reservation manager, plan
// applier, gate policy engine, ready-work scorer, metrics
// materializer, and auth kernel, wired against either the in-memory
// store or a PostgreSQL backend.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/engine/leasemanager"
	"github.com/r3e-network/taskforge/internal/metricsjob"
	"github.com/r3e-network/taskforge/internal/orchestrator"
	"github.com/r3e-network/taskforge/internal/platform/config"
	"github.com/r3e-network/taskforge/internal/platform/database"
	"github.com/r3e-network/taskforge/internal/platform/lifecycle"
	"github.com/r3e-network/taskforge/internal/platform/migrations"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/internal/store/memory"
	"github.com/r3e-network/taskforge/internal/store/postgres"
	"github.com/r3e-network/taskforge/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "path to an optional YAML config file")
	envFile := flag.String("env-file", "", "path to an optional .env file")
	dsnFlag := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_URL/config; in-memory storage when empty)")
	migrate := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	projectsFlag := flag.String("metrics-projects", "", "comma-separated project IDs the metrics scheduler should materialize (empty disables the scheduler)")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})

	dsn := resolveDSN(*dsnFlag, cfg)

	var s store.Store
	var db *sql.DB

	if dsn != "" {
		opened, err := database.Open(context.Background(), dsn)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		database.Configure(opened, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if *migrate {
			if err := migrations.Apply(context.Background(), opened); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		s = postgres.New(opened)
		db = opened
	} else {
		log.Warn("DATABASE_URL not set; running against the in-memory store")
		s = memory.New(nil)
	}
	if db != nil {
		defer db.Close()
	}

	app := orchestrator.New(s, log.Logger, leasemanager.WithLeaseDuration(cfg.LeaseDuration))

	manager := lifecycle.NewManager()
	manager.Register(leasemanager.NewSweeper(s, log.Logger, cfg.SweepInterval))

	for _, projectID := range splitCSV(*projectsFlag) {
		batch := metricsjob.NewMaterializer(s, domain.MetricsModeBatch, cfg.MetricsBatchSize, log.Logger, nil)
		nrt := metricsjob.NewMaterializer(s, domain.MetricsModeNearRealTime, cfg.MetricsNRTBatchSize, log.Logger, nil)
		manager.Register(metricsjob.NewScheduler(batch, []string{projectID}, cfg.MetricsBatchCadence, log.Logger))
		manager.Register(metricsjob.NewScheduler(nrt, []string{projectID}, cfg.MetricsNRTCadence, log.Logger))
	}

	rootCtx := context.Background()
	if err := manager.Start(rootCtx); err != nil {
		log.Fatalf("start background services: %v", err)
	}
	log.Infof("orchestratord ready (listen_addr=%s auth_disabled=%v)", cfg.ListenAddr, cfg.AuthDisabled)

	// app is the operation surface a transport shell dispatches onto; this
	// binary only owns the background services until one is attached.
	_ = app

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(cfg.DatabaseURL)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
