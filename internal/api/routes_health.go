package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/charlesng35/dbcache/internal/app"
	"github.com/charlesng35/dbcache/internal/handlers"
	"github.com/charlesng35/dbcache/internal/monitoring"
	"github.com/charlesng35/dbcache/internal/monitoring/checks"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, deps Dependencies) {
	var manager *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled {
		manager = newHealthManager(cfg, deps)
	}

	handler := handlers.NewHealthHandler(manager)
	r.GET("/health", handler.Overall)
	r.GET("/health/live", handler.Live)
	r.GET("/health/ready", handler.Ready)
}

func newHealthManager(cfg *app.Config, deps Dependencies) *monitoring.HealthManager {
	timeout := cfg.Monitoring.Health.Timeout

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(checks.Database(deps.DB, timeout))
	manager.RegisterReadiness(checks.Cache(deps.Store, timeout))
	if deps.Maintenance != nil {
		manager.RegisterReadiness(checks.Maintenance(deps.Maintenance, maintenanceWindow(cfg)))
	}
	return manager
}

// maintenanceWindow allows three intervals of the slowest maintenance schedule to pass before
// readiness degrades. Zero selects the check's default.
func maintenanceWindow(cfg *app.Config) time.Duration {
	var slowest time.Duration
	for _, spec := range []string{cfg.Maintenance.TouchSchedule, cfg.Maintenance.SweepSchedule} {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			continue
		}
		first := schedule.Next(time.Now())
		if interval := schedule.Next(first).Sub(first); interval > slowest {
			slowest = interval
		}
	}
	return 3 * slowest
}
