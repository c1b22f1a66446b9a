package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbcache/internal/models"
)

func TestAutoMigrateCreatesCacheEntries(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	require.True(t, migrator.HasTable("cache_entries"))
	for _, column := range []string{"id", "key", "value", "expires_at", "created_at", "updated_at"} {
		require.True(t, migrator.HasColumn(&models.CacheEntry{}, column), "missing column %s", column)
	}
	require.True(t, migrator.HasIndex(&models.CacheEntry{}, "Key"), "expected unique index on key")
}

func TestAutoMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
}

func TestAutoMigrateRejectsNilHandle(t *testing.T) {
	require.Error(t, AutoMigrate(nil))
}

func TestUniqueKeyIndexRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	require.NoError(t, db.Create(&models.CacheEntry{Key: "dup", Value: []byte("a")}).Error)
	require.Error(t, db.Create(&models.CacheEntry{Key: "dup", Value: []byte("b")}).Error)
}
