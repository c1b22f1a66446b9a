package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/database"
	testutil "github.com/charlesng35/dbcache/internal/database/testutil"
	"github.com/charlesng35/dbcache/internal/models"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*EntryStore, *gorm.DB, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	store, err := NewEntryStore(db, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return store, db, clock
}

func loadEntry(t *testing.T, db *gorm.DB, key string) models.CacheEntry {
	t.Helper()

	var entry models.CacheEntry
	require.NoError(t, db.Where(keyEquals(key)).Take(&entry).Error)
	return entry
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&count).Error)
	return count
}

func TestNewEntryStoreRequiresDB(t *testing.T) {
	_, err := NewEntryStore(nil)
	require.Error(t, err)
}

func TestNewEntryStoreUsesDialectCapabilities(t *testing.T) {
	store, _, _ := newTestStore(t)
	require.True(t, store.ConflictTarget())

	off, _, _ := newTestStore(t, WithConflictTarget(false))
	require.False(t, off.ConflictTarget())
}

func TestSetOverwritesInPlace(t *testing.T) {
	for _, conflictTarget := range []bool{true, false} {
		t.Run(fmt.Sprintf("conflict_target=%t", conflictTarget), func(t *testing.T) {
			store, db, _ := newTestStore(t, WithConflictTarget(conflictTarget))
			ctx := context.Background()

			require.NoError(t, store.Set(ctx, "greeting", []byte("hello")))
			first, found, err := store.Get(ctx, "greeting")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("hello"), first.Value)

			require.NoError(t, store.Set(ctx, "greeting", []byte("bonjour")))
			second, found, err := store.Get(ctx, "greeting")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("bonjour"), second.Value)
			require.Equal(t, first.ID, second.ID)

			require.EqualValues(t, 1, countEntries(t, db))
		})
	}
}

func TestNewEntryStoreRejectsPostgresWithoutConflictTarget(t *testing.T) {
	db, err := gorm.Open(postgres.Open("host=127.0.0.1 port=1 user=cache dbname=cache sslmode=disable"), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	_, err = NewEntryStore(db, WithConflictTarget(false))
	require.Error(t, err)

	store, err := NewEntryStore(db)
	require.NoError(t, err)
	require.True(t, store.ConflictTarget())
}

func TestConcurrentFirstWritesWithoutConflictTarget(t *testing.T) {
	store, db, _ := newTestStore(t, WithConflictTarget(false))
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:stall", func(*gorm.DB) {
		time.Sleep(time.Millisecond)
	}))

	const (
		keys    = 20
		writers = 8
	)

	var g errgroup.Group
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("page:%d", i)
		for w := 0; w < writers; w++ {
			value := []byte(fmt.Sprintf("v%d", w))
			g.Go(func() error {
				return store.Set(context.Background(), key, value)
			})
		}
	}
	require.NoError(t, g.Wait())

	require.EqualValues(t, keys, countEntries(t, db))
}

func TestSetWritesExpiryWithoutTouchingFreshness(t *testing.T) {
	store, db, clock := newTestStore(t)
	ctx := context.Background()

	inserted := clock.Now()
	require.NoError(t, store.Set(ctx, "token", []byte("a")))

	entry := loadEntry(t, db, "token")
	require.Nil(t, entry.ExpiresAt)
	require.True(t, entry.UpdatedAt.Equal(inserted))

	clock.Advance(time.Hour)
	expiry := clock.Now().Add(time.Minute)
	require.NoError(t, store.Set(ctx, "token", []byte("b"), ExpiresAt(expiry)))

	entry = loadEntry(t, db, "token")
	require.Equal(t, []byte("b"), entry.Value)
	require.NotNil(t, entry.ExpiresAt)
	require.True(t, entry.ExpiresAt.Equal(expiry))
	require.True(t, entry.UpdatedAt.Equal(inserted), "set must not refresh the freshness timestamp")

	require.NoError(t, store.Set(ctx, "token", []byte("c")))
	require.Nil(t, loadEntry(t, db, "token").ExpiresAt)
}

func TestSetAll(t *testing.T) {
	for _, conflictTarget := range []bool{true, false} {
		t.Run(fmt.Sprintf("conflict_target=%t", conflictTarget), func(t *testing.T) {
			store, db, clock := newTestStore(t, WithConflictTarget(conflictTarget))
			ctx := context.Background()

			require.NoError(t, store.Set(ctx, "b", []byte("old")))
			before, _, err := store.Get(ctx, "b")
			require.NoError(t, err)

			expiry := clock.Now().Add(time.Hour)
			require.NoError(t, store.SetAll(ctx, []Payload{
				{Key: "a", Value: []byte("1")},
				{Key: "b", Value: []byte("2")},
				{Key: "c", Value: []byte("3")},
				{Key: "a", Value: []byte("4")},
			}, ExpiresAt(expiry)))

			records, err := store.GetAll(ctx, []string{"a", "b", "c"})
			require.NoError(t, err)
			require.Len(t, records, 3)
			require.Equal(t, []byte("4"), records["a"].Value)
			require.Equal(t, []byte("2"), records["b"].Value)
			require.Equal(t, before.ID, records["b"].ID)
			require.Equal(t, []byte("3"), records["c"].Value)

			require.EqualValues(t, 3, countEntries(t, db))
			require.True(t, loadEntry(t, db, "c").ExpiresAt.Equal(expiry))
		})
	}
}

func TestSetAllEmptyIsNoop(t *testing.T) {
	store, db, _ := newTestStore(t)

	require.NoError(t, store.SetAll(context.Background(), nil))
	require.Zero(t, countEntries(t, db))
}

func TestGetMissingKey(t *testing.T) {
	store, _, _ := newTestStore(t)

	record, found, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, Record{}, record)
}

func TestGetAllReturnsPresentSubset(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "one", []byte("1")))
	require.NoError(t, store.Set(ctx, "two", []byte("2")))
	one, _, err := store.Get(ctx, "one")
	require.NoError(t, err)
	two, _, err := store.Get(ctx, "two")
	require.NoError(t, err)

	records, err := store.GetAll(ctx, []string{"one", "missing", "two", "one"})
	require.NoError(t, err)
	require.Equal(t, map[string]Record{
		"one": one,
		"two": two,
	}, records)

	empty, err := store.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	deleted, err := store.Delete(ctx, "nothing")
	require.NoError(t, err)
	require.False(t, deleted)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))

	first, err := store.Delete(ctx, "k")
	require.NoError(t, err)
	second, err := store.Delete(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, []bool{first, second})

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestInvalidKeysAreRejected(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	long := string(make([]byte, models.MaxCacheKeyLength+1))

	require.ErrorIs(t, store.Set(ctx, "", []byte("v")), ErrInvalidKey)
	require.ErrorIs(t, store.Set(ctx, long, []byte("v")), ErrInvalidKey)
	_, _, err := store.Get(ctx, "")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.GetAll(ctx, []string{"ok", ""})
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Delete(ctx, "")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Increment(ctx, "", 1)
	require.ErrorIs(t, err, ErrInvalidKey)
	require.ErrorIs(t, store.SetAll(ctx, []Payload{{Key: ""}}), ErrInvalidKey)
	require.NotErrorIs(t, store.SetAll(ctx, []Payload{{Key: ""}}), ErrStorage)
}

func TestTouchByIDsOnlyRefreshesFreshness(t *testing.T) {
	store, db, clock := newTestStore(t)
	ctx := context.Background()

	expiry := clock.Now().Add(24 * time.Hour)
	require.NoError(t, store.Set(ctx, "touched", []byte("payload"), ExpiresAt(expiry)))
	require.NoError(t, store.Set(ctx, "untouched", []byte("other")))

	before := loadEntry(t, db, "touched")
	untouchedBefore := loadEntry(t, db, "untouched")

	clock.Advance(5 * time.Minute)
	require.NoError(t, store.TouchByIDs(ctx, []int64{before.ID, 999999}))

	after := loadEntry(t, db, "touched")
	require.Equal(t, before.ID, after.ID)
	require.Equal(t, before.Key, after.Key)
	require.Equal(t, before.Value, after.Value)
	require.True(t, before.ExpiresAt.Equal(*after.ExpiresAt))
	require.True(t, before.CreatedAt.Equal(after.CreatedAt))
	require.True(t, after.UpdatedAt.Equal(clock.Now()))
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))

	untouchedAfter := loadEntry(t, db, "untouched")
	require.True(t, untouchedBefore.UpdatedAt.Equal(untouchedAfter.UpdatedAt))

	require.NoError(t, store.TouchByIDs(ctx, nil))
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	store, db, _ := newTestStore(t)
	require.NoError(t, database.Close(db))

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStorage)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "get", opErr.Op)
	require.NotNil(t, opErr.Unwrap())
}

func TestCancelledContextIsReported(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.DeleteMatched(ctx, "%", 10)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrStorage)
}

func TestConcurrentSetsKeepOneRow(t *testing.T) {
	store, db, _ := newTestStore(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		value := []byte(fmt.Sprintf("v%d", i))
		g.Go(func() error {
			return store.Set(ctx, "shared", value)
		})
	}
	require.NoError(t, g.Wait())

	require.EqualValues(t, 1, countEntries(t, db))
}
