package cache

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/dbcache/internal/database"
	"github.com/charlesng35/dbcache/internal/models"
	"github.com/charlesng35/dbcache/pkg/logger"
	"github.com/charlesng35/dbcache/pkg/metrics"
)

// DefaultBatchSize bounds how many ids bulk eviction loads per round trip.
const DefaultBatchSize = 1000

// EntryStore implements Store on top of the cache_entries table.
//
// Every operation except Update/Increment is a single statement (bulk eviction issues one
// select and one delete per batch). Update runs in a transaction holding a row lock.
type EntryStore struct {
	db             *gorm.DB
	conflictTarget bool
	rowLocks       bool
	batchSize      int
	now            func() time.Time
	log            *zap.Logger
	locks          *keyLocks
}

// Option customises an EntryStore.
type Option func(*EntryStore)

// WithConflictTarget declares whether upserts name the key column as their conflict target.
// Without one the upsert is resolved against whichever unique index fires (MySQL's
// ON DUPLICATE KEY UPDATE), so a database missing the unique index on key may store duplicate
// rows for concurrent first writes. PostgreSQL cannot upsert without a target.
func WithConflictTarget(supported bool) Option {
	return func(s *EntryStore) {
		s.conflictTarget = supported
	}
}

// WithDefaultBatchSize overrides the batch size used when callers pass a non-positive one.
func WithDefaultBatchSize(size int) Option {
	return func(s *EntryStore) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithClock overrides the clock used for insert and touch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *EntryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *EntryStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewEntryStore constructs a database-backed Store. Conflict-target support defaults to what
// the dialect offers; pass WithConflictTarget to make the choice explicit.
func NewEntryStore(db *gorm.DB, opts ...Option) (*EntryStore, error) {
	if db == nil {
		return nil, errors.New("cache: database handle is required")
	}

	store := &EntryStore{
		db:             db,
		conflictTarget: database.SupportsConflictTarget(db),
		rowLocks:       database.SupportsRowLocking(db),
		batchSize:      DefaultBatchSize,
		now:            func() time.Time { return time.Now().UTC() },
		log:            logger.WithModule("cache"),
		locks:          newKeyLocks(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if !store.conflictTarget && database.Dialect(db) == database.DialectPostgres {
		return nil, errors.New("cache: postgres upserts require a conflict target")
	}

	return store, nil
}

// ConflictTarget reports whether upserts name the key column as their conflict target.
func (s *EntryStore) ConflictTarget() bool {
	return s.conflictTarget
}

// Set upserts key with value. Only value and expires_at are overwritten on an existing row.
func (s *EntryStore) Set(ctx context.Context, key string, value []byte, opts ...WriteOption) (err error) {
	defer s.observe("set", time.Now(), &err)

	if err := validateKey(key); err != nil {
		return err
	}

	o := resolveWriteOptions(opts)
	return storageError("set", s.write(s.db.WithContext(ctx), key, value, o.expiresAt))
}

// SetAll upserts every payload in one statement. Later payloads win over earlier ones with the
// same key. Rows are written individually atomic, not as one transaction.
func (s *EntryStore) SetAll(ctx context.Context, payloads []Payload, opts ...WriteOption) (err error) {
	defer s.observe("set_all", time.Now(), &err)

	if len(payloads) == 0 {
		return nil
	}

	o := resolveWriteOptions(opts)
	now := s.now()

	index := make(map[string]int, len(payloads))
	entries := make([]models.CacheEntry, 0, len(payloads))
	for _, payload := range payloads {
		if err := validateKey(payload.Key); err != nil {
			return err
		}
		entry := newEntry(payload.Key, payload.Value, o.expiresAt, now)
		if i, ok := index[payload.Key]; ok {
			entries[i] = entry
			continue
		}
		index[payload.Key] = len(entries)
		entries = append(entries, entry)
	}

	err = s.db.WithContext(ctx).Clauses(s.upsertClause()).Create(&entries).Error
	return storageError("set_all", err)
}

// Get returns the id and value stored for key. A missing key is reported through found.
// Lookups never refresh the freshness timestamp.
func (s *EntryStore) Get(ctx context.Context, key string) (record Record, found bool, err error) {
	defer s.observe("get", time.Now(), &err)

	if err := validateKey(key); err != nil {
		return Record{}, false, err
	}

	err = s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("id", "value").
		Where(keyEquals(key)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, storageError("get", err)
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return record, true, nil
}

type keyedRecord struct {
	Key   string
	ID    int64
	Value []byte
}

// GetAll returns the records of every requested key that has a row; absent keys are omitted.
func (s *EntryStore) GetAll(ctx context.Context, keys []string) (records map[string]Record, err error) {
	defer s.observe("get_all", time.Now(), &err)

	records = make(map[string]Record, len(keys))
	if len(keys) == 0 {
		return records, nil
	}

	values := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return nil, err
		}
		values = append(values, key)
	}

	var rows []keyedRecord
	if err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("key", "id", "value").
		Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).
		Find(&rows).Error; err != nil {
		return nil, storageError("get_all", err)
	}

	for _, row := range rows {
		records[row.Key] = Record{ID: row.ID, Value: row.Value}
	}

	metrics.CacheLookups.WithLabelValues("hit").Add(float64(len(records)))
	metrics.CacheLookups.WithLabelValues("miss").Add(float64(len(uniqueKeys(keys)) - len(records)))
	return records, nil
}

// Delete removes key and reports whether a row existed.
func (s *EntryStore) Delete(ctx context.Context, key string) (deleted bool, err error) {
	defer s.observe("delete", time.Now(), &err)

	if err := validateKey(key); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Where(keyEquals(key)).Delete(&models.CacheEntry{})
	if result.Error != nil {
		return false, storageError("delete", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TouchByIDs refreshes the freshness timestamp of the given rows. value and expires_at are
// left alone; unknown ids are ignored.
func (s *EntryStore) TouchByIDs(ctx context.Context, ids []int64) (err error) {
	defer s.observe("touch", time.Now(), &err)

	if len(ids) == 0 {
		return nil
	}

	err = s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("id IN ?", ids).
		UpdateColumn("updated_at", s.now()).Error
	if err != nil {
		return storageError("touch", err)
	}

	metrics.CacheTouches.Add(float64(len(ids)))
	return nil
}

// write stores value for key through the upsert path on db, which may be a transaction.
func (s *EntryStore) write(db *gorm.DB, key string, value []byte, expiresAt *time.Time) error {
	entry := newEntry(key, value, expiresAt, s.now())
	return db.Clauses(s.upsertClause()).Create(&entry).Error
}

func (s *EntryStore) observe(op string, start time.Time, err *error) {
	result := "ok"
	if err != nil && *err != nil {
		result = "error"
		if errors.Is(*err, ErrStorage) {
			s.log.Warn("cache operation failed", zap.String("op", op), zap.Error(*err))
		}
	}
	metrics.CacheOperations.WithLabelValues(op, result).Inc()
	metrics.CacheOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func newEntry(key string, value []byte, expiresAt *time.Time, now time.Time) models.CacheEntry {
	if value == nil {
		value = []byte{}
	}
	return models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// upsertClause overwrites only value and expires_at on conflict. Without a conflict target the
// clause names no column and the database picks the unique index that fired.
func (s *EntryStore) upsertClause() clause.OnConflict {
	onConflict := clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}
	if s.conflictTarget {
		onConflict.Columns = []clause.Column{{Name: "key"}}
	}
	return onConflict
}

func keyEquals(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func validateKey(key string) error {
	if key == "" || utf8.RuneCountInString(key) > models.MaxCacheKeyLength {
		return ErrInvalidKey
	}
	return nil
}

func uniqueKeys(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}
