package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestCacheEntrySchema(t *testing.T) {
	s, err := schema.Parse(&CacheEntry{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	require.Equal(t, "cache_entries", s.Table)
	require.Equal(t, "id", s.PrioritizedPrimaryField.DBName)
	require.True(t, s.PrioritizedPrimaryField.AutoIncrement)

	key := s.LookUpField("key")
	require.NotNil(t, key)
	require.Equal(t, MaxCacheKeyLength, key.Size)
	require.True(t, key.NotNull)

	indexes := s.ParseIndexes()
	var uniqueKey bool
	for _, idx := range indexes {
		if idx.Class == "UNIQUE" && len(idx.Fields) == 1 && idx.Fields[0].DBName == "key" {
			uniqueKey = true
		}
	}
	require.True(t, uniqueKey, "expected a unique index on key")

	require.NotNil(t, s.LookUpField("expires_at"))
	require.NotNil(t, s.LookUpField("updated_at"))
}
