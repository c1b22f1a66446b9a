package checks

import (
	"context"
	"time"

	"github.com/charlesng35/dbcache/internal/cache"
	"github.com/charlesng35/dbcache/internal/monitoring"
)

// ProbeKey is looked up by the cache probe; it is never written.
const ProbeKey = "health:probe"

// Cache returns a readiness probe that issues a lookup through the entry store, verifying the
// cache table is reachable and migrated.
func Cache(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDown,
				Details: "cache store not configured",
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		_, _, err := store.Get(probeCtx, ProbeKey)
		return monitoring.ResultFromError("cache", err, time.Since(start))
	})
}
