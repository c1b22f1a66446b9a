package app

import (
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/cache"
	"github.com/charlesng35/dbcache/internal/database"
)

// Accepted values for cache.conflict_target.
const (
	ConflictTargetAuto = "auto"
	ConflictTargetOn   = "on"
	ConflictTargetOff  = "off"
)

// ConflictTargetEnabled resolves the configured conflict target mode against the dialect of db.
func (c CacheConfig) ConflictTargetEnabled(db *gorm.DB) bool {
	switch strings.ToLower(strings.TrimSpace(c.ConflictTarget)) {
	case ConflictTargetOn:
		return true
	case ConflictTargetOff:
		return false
	default:
		return database.SupportsConflictTarget(db)
	}
}

// StoreOptions converts the cache configuration into entry store options for db.
func (c CacheConfig) StoreOptions(db *gorm.DB) []cache.Option {
	opts := []cache.Option{cache.WithConflictTarget(c.ConflictTargetEnabled(db))}
	if c.BatchSize > 0 {
		opts = append(opts, cache.WithDefaultBatchSize(c.BatchSize))
	}
	return opts
}

// ConnectionConfig converts the application database settings into database.Config.
func (d DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:       strings.ToLower(strings.TrimSpace(d.Driver)),
		Path:         strings.TrimSpace(d.Path),
		DSN:          strings.TrimSpace(d.DSN),
		MaxOpenConns: d.MaxOpenConns,
	}

	var auth DBAuthConfig
	switch cfg.Driver {
	case "", database.DialectSQLite:
		cfg.Driver = database.DialectSQLite
		return cfg
	case database.DialectPostgres, "postgresql":
		cfg.Driver = database.DialectPostgres
		auth = d.Postgres
	case database.DialectMySQL:
		auth = d.MySQL
	default:
		// Left as-is so database.Open reports the unsupported driver.
		return cfg
	}

	cfg.Host = strings.TrimSpace(auth.Host)
	cfg.Port = auth.Port
	cfg.Name = strings.TrimSpace(auth.Database)
	cfg.User = strings.TrimSpace(auth.Username)
	cfg.Password = auth.Password
	return cfg
}
