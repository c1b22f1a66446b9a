package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/models"
)

// AutoMigrate creates or updates the cache_entries table and its indexes.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errNilDB
	}
	return db.AutoMigrate(&models.CacheEntry{})
}
