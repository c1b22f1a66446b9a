package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/api"
	"github.com/charlesng35/dbcache/internal/app"
	"github.com/charlesng35/dbcache/internal/app/maintenance"
	"github.com/charlesng35/dbcache/internal/cache"
	"github.com/charlesng35/dbcache/internal/database"
	"github.com/charlesng35/dbcache/internal/middleware"
	"github.com/charlesng35/dbcache/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Store   *cache.EntryStore
	Tracker *maintenance.RecencyTracker
	Sweeper *maintenance.Sweeper
	Router  *gin.Engine
}

// bootstrapRuntime opens the database, builds the cache store and maintenance jobs, and wires
// the HTTP router. Everything opened so far is released again when a later step fails.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = cache.NewEntryStore(stack.DB, cfg.Cache.StoreOptions(stack.DB)...)
	if err != nil {
		return nil, fmt.Errorf("initialise cache store: %w", err)
	}
	log.Info("cache store ready",
		zap.String("dialect", database.Dialect(stack.DB)),
		zap.Bool("conflict_target", stack.Store.ConflictTarget()),
	)

	deps := api.Dependencies{
		DB:        stack.DB,
		Store:     stack.Store,
		RateStore: middleware.NewStoreRateStore(stack.Store),
	}

	if cfg.Maintenance.Enabled {
		stack.Tracker = maintenance.NewRecencyTracker(stack.Store, cfg.Maintenance.SweepBatchSize)
		stack.Sweeper = maintenance.NewSweeper(stack.Store, stack.Tracker,
			maintenance.WithMaxIdle(cfg.Maintenance.MaxIdle),
			maintenance.WithBatchSize(cfg.Maintenance.SweepBatchSize),
			maintenance.WithTouchSchedule(cfg.Maintenance.TouchSchedule),
			maintenance.WithSweepSchedule(cfg.Maintenance.SweepSchedule),
		)
		if err := stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		deps.Recorder = stack.Tracker
		deps.Maintenance = stack.Sweeper
	}

	stack.Router, err = api.NewRouter(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, flushes pending touches and closes the database.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		<-s.Sweeper.Stop().Done()
		s.Sweeper = nil
	}

	if s.Tracker != nil {
		if _, err := s.Tracker.Flush(ctx); err != nil {
			log.Warn("final touch flush failed", zap.Error(err))
		}
		s.Tracker = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()

	db, err := database.Prepare(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
