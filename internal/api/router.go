package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/app"
	"github.com/charlesng35/dbcache/internal/cache"
	"github.com/charlesng35/dbcache/internal/handlers"
	"github.com/charlesng35/dbcache/internal/middleware"
	"github.com/charlesng35/dbcache/internal/monitoring/checks"
)

// Dependencies bundles the long-lived services the router serves.
type Dependencies struct {
	DB    *gorm.DB
	Store cache.Store
	// Recorder receives ids of entries read through the API; optional.
	Recorder handlers.Recorder
	// Maintenance reports background job health; optional.
	Maintenance checks.JobReporter
	// RateStore backs the /api rate limiter; optional.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.DB == nil {
		return nil, errors.New("database handle must be provided")
	}
	if deps.Store == nil {
		return nil, errors.New("cache store must be provided")
	}

	r := gin.New()
	// Matches on the raw path so encoded characters in keys survive routing.
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, cfg, deps)
	registerMetricsRoutes(r, cfg)

	api := r.Group("/api")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	entryHandler, err := handlers.NewEntryHandler(deps.Store, deps.Recorder, cfg.Cache.BatchSize)
	if err != nil {
		return nil, err
	}
	registerEntryRoutes(api, entryHandler)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
