package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/sectionlock/internal/api"
	"github.com/charlesng35/sectionlock/internal/app"
	"github.com/charlesng35/sectionlock/internal/app/maintenance"
	iauth "github.com/charlesng35/sectionlock/internal/auth"
	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/database"
	"github.com/charlesng35/sectionlock/internal/history"
	"github.com/charlesng35/sectionlock/internal/monitoring"
	"github.com/charlesng35/sectionlock/internal/monitoring/checks"
	"github.com/charlesng35/sectionlock/internal/realtime"
	"github.com/charlesng35/sectionlock/pkg/logger"
)

// maintenanceMaxAge tolerates one missed daily retention run; the idle lock
// sweep runs every few seconds and gets its own window.
const (
	maintenanceMaxAge = 48 * time.Hour
	sweepMaxAge       = 10 * time.Minute
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	History  *history.Store
	Recorder *history.Recorder
	Manager  *collab.Manager
	Realtime *realtime.Server
	JWT      *iauth.JWTService
	Tracker  *monitoring.MaintenanceTracker
	Health   *monitoring.HealthManager
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, collaboration services, background
// jobs, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.History, err = history.NewStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise history store: %w", err)
	}

	stack.Recorder, err = history.NewRecorder(stack.History, history.WithBufferSize(cfg.Collab.HistoryBuffer))
	if err != nil {
		return nil, fmt.Errorf("initialise history recorder: %w", err)
	}

	stack.Manager = collab.NewManager(collab.WithRecorder(stack.Recorder))

	stack.Realtime, err = realtime.NewServer(stack.Manager, cfg.RealtimeOptions())
	if err != nil {
		return nil, fmt.Errorf("initialise realtime server: %w", err)
	}

	stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Tracker = monitoring.NewMaintenanceTracker()
	stack.Cleaner = maintenance.NewCleaner(stack.Manager, stack.History,
		maintenance.WithIdleLockTimeout(cfg.Collab.IdleLockTimeout),
		maintenance.WithSweepSchedule(cfg.Collab.SweepSchedule),
		maintenance.WithHistoryRetentionDays(cfg.Collab.HistoryRetentionDays),
		maintenance.WithRetentionSchedule(cfg.Collab.RetentionSchedule),
		maintenance.WithTracker(stack.Tracker),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = buildHealthManager(cfg, stack)

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:   cfg,
		JWT:      stack.JWT,
		Manager:  stack.Manager,
		Realtime: stack.Realtime,
		History:  stack.History,
		Health:   stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if cfg.Collab.IdleLockTimeout > 0 {
		log.Info("idle lock expiry enabled", zap.Duration("timeout", cfg.Collab.IdleLockTimeout))
	}

	success = true
	return stack, nil
}

func buildHealthManager(cfg *app.Config, stack *runtimeStack) *monitoring.HealthManager {
	timeout := cfg.Monitoring.Health.Timeout
	manager := monitoring.NewHealthManager(timeout)

	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterLiveness(checks.Collab(stack.Manager, timeout))

	manager.RegisterReadiness(checks.Database(stack.DB, timeout))
	manager.RegisterReadiness(checks.Collab(stack.Manager, timeout))
	manager.RegisterReadiness(checks.Maintenance(stack.Tracker, maintenanceMaxAge,
		checks.JobWindow{Job: maintenance.JobIdleLockSweep, MaxAge: sweepMaxAge},
	))
	return manager
}

// Shutdown disconnects collaborators, stops background jobs, flushes lock history
// and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Manager != nil {
		s.Manager.Shutdown(ctx)
		if err := waitForChannels(ctx, s.Manager); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("drain document channels: %w", err))
		}
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("stop maintenance jobs: %w", ctx.Err()))
		}
	}

	if s.Recorder != nil {
		if err := s.Recorder.Close(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flush lock history: %w", err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	if errs != nil {
		log.Warn("shutdown completed with errors", zap.Error(errs))
	}
	return errs
}

// waitForChannels blocks until every document channel has been disposed.
func waitForChannels(ctx context.Context, manager *collab.Manager) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for manager.ActiveChannels() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOptions()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}
