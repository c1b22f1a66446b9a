package cache

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/models"
)

func remainingKeys(t *testing.T, db *gorm.DB) []string {
	t.Helper()

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Order("id").Pluck("key", &keys).Error)
	sort.Strings(keys)
	return keys
}

func TestDeleteMatchedIsIndependentOfBatchSize(t *testing.T) {
	matching := []string{"session_1", "session_2", "session_3", "session_abc", "SESSION_5"}
	other := []string{"user_1", "my_session_1", "cart"}

	for _, batchSize := range []int{1, 2, 1000} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			store, db, _ := newTestStore(t)
			ctx := context.Background()

			for i, key := range append(append([]string{}, matching...), other...) {
				require.NoError(t, store.Set(ctx, key, []byte(fmt.Sprint(i))))
			}

			deleted, err := store.DeleteMatched(ctx, "session_%", batchSize)
			require.NoError(t, err)
			require.EqualValues(t, len(matching), deleted)

			want := append([]string{}, other...)
			sort.Strings(want)
			require.Equal(t, want, remainingKeys(t, db))
		})
	}
}

func TestDeleteMatchedTreatsWildcardsLiterally(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"abc", "a_c", "ac", "abbc"} {
		require.NoError(t, store.Set(ctx, key, []byte("v")))
	}

	deleted, err := store.DeleteMatched(ctx, "a_c", 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
	require.Equal(t, []string{"abbc", "ac"}, remainingKeys(t, db))
}

func TestDeleteMatchedWithoutMatches(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "keep", []byte("v")))

	deleted, err := store.DeleteMatched(ctx, "gone%", 10)
	require.NoError(t, err)
	require.Zero(t, deleted)
	require.EqualValues(t, 1, countEntries(t, db))
}

func TestForEachIDBatchPagesAscending(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}

	var pages [][]int64
	err := store.forEachIDBatch(ctx, func(db *gorm.DB) *gorm.DB { return db }, 3, func(ids []int64) error {
		pages = append(pages, append([]int64{}, ids...))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	require.Len(t, pages[0], 3)
	require.Len(t, pages[1], 3)
	require.Len(t, pages[2], 1)

	var flat []int64
	for _, page := range pages {
		flat = append(flat, page...)
	}
	require.True(t, sort.SliceIsSorted(flat, func(i, j int) bool { return flat[i] < flat[j] }))
}

func TestForEachIDBatchStopsOnCallbackError(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}

	calls := 0
	err := store.forEachIDBatch(ctx, func(db *gorm.DB) *gorm.DB { return db }, 1, func([]int64) error {
		calls++
		return fmt.Errorf("stop")
	})
	require.EqualError(t, err, "stop")
	require.Equal(t, 1, calls)
}

func TestDeleteStale(t *testing.T) {
	store, db, clock := newTestStore(t)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, store.Set(ctx, "expired", []byte("v"), ExpiresAt(start.Add(time.Minute))))
	require.NoError(t, store.Set(ctx, "idle", []byte("v")))
	clock.Advance(2 * time.Hour)
	require.NoError(t, store.Set(ctx, "fresh", []byte("v"), ExpiresAt(clock.Now().Add(time.Hour))))
	require.NoError(t, store.Set(ctx, "forever", []byte("v")))

	idle := loadEntry(t, db, "idle")
	forever := loadEntry(t, db, "forever")
	require.NoError(t, store.TouchByIDs(ctx, []int64{forever.ID}))
	require.NotZero(t, idle.ID)

	deleted, err := store.DeleteStale(ctx, StaleCutoff{
		ExpiredAt:  clock.Now(),
		IdleBefore: clock.Now().Add(-time.Hour),
	}, 1)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
	require.Equal(t, []string{"forever", "fresh"}, remainingKeys(t, db))

	deleted, err = store.DeleteStale(ctx, StaleCutoff{}, 10)
	require.NoError(t, err)
	require.Zero(t, deleted)
}
