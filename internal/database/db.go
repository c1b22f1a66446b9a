package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string

	// MaxOpenConns caps the connection pool when positive.
	MaxOpenConns int
	// LogLevel controls gorm's statement logger; silent unless set.
	LogLevel logger.LogLevel
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DialectSQLite
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DialectSQLite:
		db, err = openSQLite(cfg)
	case DialectPostgres, "postgresql":
		db, err = openPostgres(cfg)
	case DialectMySQL:
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Prepare opens the database and applies migrations, closing the handle again on failure.
func Prepare(cfg Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return db, nil
}

func gormConfig(cfg Config) *gorm.Config {
	level := cfg.LogLevel
	if level == 0 {
		level = logger.Silent
	}
	return &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}
}

var errNilDB = errors.New("nil database handle")
