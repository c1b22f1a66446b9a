package database

import (
	"gorm.io/gorm"
)

// Dialect names as reported by the gorm dialectors.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Dialect returns the dialector name behind db, or "" for a nil handle.
func Dialect(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	return db.Dialector.Name()
}

// SupportsConflictTarget reports whether upserts can name the conflicting column.
// MySQL resolves ON DUPLICATE KEY against whichever unique index fires, so it does not.
func SupportsConflictTarget(db *gorm.DB) bool {
	switch Dialect(db) {
	case DialectSQLite, DialectPostgres:
		return true
	default:
		return false
	}
}

// SupportsRowLocking reports whether SELECT ... FOR UPDATE takes a row lock.
// SQLite serialises writers on the whole database instead.
func SupportsRowLocking(db *gorm.DB) bool {
	switch Dialect(db) {
	case DialectPostgres, DialectMySQL:
		return true
	default:
		return false
	}
}
