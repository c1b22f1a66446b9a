package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/dbcache/internal/cache"
	apperrors "github.com/charlesng35/dbcache/pkg/errors"
	"github.com/charlesng35/dbcache/pkg/logger"
	"github.com/charlesng35/dbcache/pkg/response"
)

// RateStore counts requests for a key within the current fixed window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// CounterStore is the subset of the cache store the rate limiter needs.
type CounterStore interface {
	Increment(ctx context.Context, key string, amount int64, opts ...cache.WriteOption) (int64, error)
}

// storeRateStore keeps one counter row per key and window. Rows expire at the end of their
// window and are removed by the stale entry sweep.
type storeRateStore struct {
	store CounterStore
	now   func() time.Time
}

// NewStoreRateStore builds a RateStore on top of the cache entry store.
func NewStoreRateStore(store CounterStore) RateStore {
	return newStoreRateStore(store, time.Now)
}

func newStoreRateStore(store CounterStore, now func() time.Time) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store, now: now}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	start := now.Truncate(window)
	end := start.Add(window)

	counterKey := fmt.Sprintf("ratelimit:%s|%d", key, start.Unix())
	count, err := s.store.Increment(ctx, counterKey, 1, cache.ExpiresAt(end))
	if err != nil {
		return 0, 0, err
	}
	return int(count), end.Sub(now), nil
}

// RateLimit limits requests per (client IP, route) within a fixed window. Requests are let
// through when the store fails.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		count, ttl, err := store.Increment(c.Request.Context(), c.ClientIP()+"|"+path, window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
