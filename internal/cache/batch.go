package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/dbcache/internal/database"
	"github.com/charlesng35/dbcache/internal/models"
	"github.com/charlesng35/dbcache/pkg/metrics"
)

// idScope narrows the cache_entries query whose ids are paged by forEachIDBatch.
type idScope func(*gorm.DB) *gorm.DB

// forEachIDBatch pages through the ids selected by scope in ascending order, at most
// batchSize at a time, and hands each page to fn. Each page starts after the last id of the
// previous one, so rows fn removes are never scanned again and the loop always advances.
// No lock is held between pages.
func (s *EntryStore) forEachIDBatch(ctx context.Context, scope idScope, batchSize int, fn func(ids []int64) error) error {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ids []int64
		err := s.db.WithContext(ctx).
			Model(&models.CacheEntry{}).
			Scopes(scope).
			Where("id > ?", lastID).
			Order("id").
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := fn(ids); err != nil {
			return err
		}

		if len(ids) < batchSize {
			return nil
		}
		lastID = ids[len(ids)-1]
	}
}

// deleteByIDs removes one page of rows and returns how many were deleted.
func (s *EntryStore) deleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

// deleteInBatches removes every row selected by scope, one id page at a time.
func (s *EntryStore) deleteInBatches(ctx context.Context, op string, scope idScope, batchSize int) (int64, error) {
	var total int64
	err := s.forEachIDBatch(ctx, scope, batchSize, func(ids []int64) error {
		deleted, err := s.deleteByIDs(ctx, ids)
		if err != nil {
			return err
		}
		total += deleted
		s.log.Debug("deleted batch", zap.String("op", op), zap.Int("selected", len(ids)), zap.Int64("deleted", deleted))
		return nil
	})
	if err != nil {
		return total, storageError(op, err)
	}
	return total, nil
}

// DeleteMatched removes every row whose key matches the LIKE pattern matcher, compared
// case-insensitively and without an escape character, so % and _ always act as wildcards.
// Rows are removed in id-ordered batches of batchSize; the call as a whole is not atomic and
// matching rows written during the sweep may or may not be removed. It returns the number of
// rows deleted, which is also meaningful alongside a non-nil error.
func (s *EntryStore) DeleteMatched(ctx context.Context, matcher string, batchSize int) (deleted int64, err error) {
	defer s.observe("delete_matched", time.Now(), &err)

	pattern := s.likePattern(matcher)
	deleted, err = s.deleteInBatches(ctx, "delete_matched", func(db *gorm.DB) *gorm.DB {
		return db.Where(pattern)
	}, batchSize)

	metrics.CacheEvictions.WithLabelValues("matched").Add(float64(deleted))
	return deleted, err
}

// DeleteStale removes expired rows and rows not touched since cutoff.IdleBefore, in batches.
func (s *EntryStore) DeleteStale(ctx context.Context, cutoff StaleCutoff, batchSize int) (deleted int64, err error) {
	defer s.observe("delete_stale", time.Now(), &err)

	var (
		conditions []string
		args       []interface{}
	)
	if !cutoff.ExpiredAt.IsZero() {
		conditions = append(conditions, "(expires_at IS NOT NULL AND expires_at <= ?)")
		args = append(args, cutoff.ExpiredAt.UTC())
	}
	if !cutoff.IdleBefore.IsZero() {
		conditions = append(conditions, "updated_at < ?")
		args = append(args, cutoff.IdleBefore.UTC())
	}
	if len(conditions) == 0 {
		return 0, nil
	}

	where := "(" + strings.Join(conditions, " OR ") + ")"
	deleted, err = s.deleteInBatches(ctx, "delete_stale", func(db *gorm.DB) *gorm.DB {
		return db.Where(where, args...)
	}, batchSize)

	metrics.CacheEvictions.WithLabelValues("stale").Add(float64(deleted))
	return deleted, err
}

// likePattern builds LOWER(key) LIKE LOWER(matcher). PostgreSQL and MySQL treat a backslash as
// the default escape character, so the escape is switched off explicitly there; SQLite has
// none unless asked for.
func (s *EntryStore) likePattern(matcher string) clause.Expr {
	sql := "LOWER(?) LIKE LOWER(?)"
	switch database.Dialect(s.db) {
	case database.DialectPostgres, database.DialectMySQL:
		sql += " ESCAPE ''"
	}
	return clause.Expr{
		SQL:  sql,
		Vars: []interface{}{clause.Column{Name: "key"}, matcher},
	}
}
