package models

import (
	"time"
)

// MaxCacheKeyLength bounds keys so the unique index stays within MySQL's index size limit.
const MaxCacheKeyLength = 512

// CacheEntry is one row of the durable cache table.
//
// Value and ExpiresAt are written only by the upsert path. UpdatedAt is the freshness
// timestamp; after insert it is written only by touches.
type CacheEntry struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string     `gorm:"size:512;not null;uniqueIndex" json:"key"`
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `gorm:"index" json:"updated_at"`
}

// TableName pins the table name regardless of naming strategy.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
