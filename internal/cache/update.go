package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/dbcache/internal/models"
)

// Update atomically replaces the value of key with fn(current). The read and the write happen
// in one transaction that holds a row lock on key, so concurrent updates of the same key are
// applied one after another and none is lost. Updates of other keys are not blocked.
//
// A missing row is seeded first (insert-or-ignore) so that there is always a row to lock,
// even on the very first update of a key. If fn returns an error nothing is written and the
// error is returned as is.
func (s *EntryStore) Update(ctx context.Context, key string, fn UpdateFunc, opts ...WriteOption) (next []byte, err error) {
	defer s.observe("update", time.Now(), &err)

	if err := validateKey(key); err != nil {
		return nil, err
	}

	o := resolveWriteOptions(opts)

	unlock := s.locks.lock(key)
	defer unlock()

	var fnErr error
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.seed(tx, key); err != nil {
			return err
		}

		query := tx.Model(&models.CacheEntry{})
		if s.rowLocks {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var current Record
		if err := query.Select("id", "value").Where(keyEquals(key)).Take(&current).Error; err != nil {
			return err
		}

		// Seeded rows carry a NULL value until this transaction writes one.
		next, fnErr = fn(current.Value, current.Value != nil)
		if fnErr != nil {
			return fnErr
		}

		return s.write(tx, key, next, o.expiresAt)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if txErr != nil {
		return nil, storageError("update", txErr)
	}

	return next, nil
}

// Increment adds amount to the integer stored at key and returns the new value. A missing or
// non-numeric value counts as zero.
func (s *EntryStore) Increment(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, error) {
	var total int64
	_, err := s.Update(ctx, key, func(current []byte, found bool) ([]byte, error) {
		total = s.parseCounter(key, current, found) + amount
		return []byte(strconv.FormatInt(total, 10)), nil
	}, opts...)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Decrement subtracts amount from the integer stored at key.
func (s *EntryStore) Decrement(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, error) {
	return s.Increment(ctx, key, -amount, opts...)
}

func (s *EntryStore) seed(tx *gorm.DB, key string) error {
	now := s.now()
	placeholder := models.CacheEntry{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error
}

func (s *EntryStore) parseCounter(key string, current []byte, found bool) int64 {
	if !found {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(current)), 10, 64)
	if err != nil {
		s.log.Debug("non-numeric counter treated as zero", zap.String("key", key))
		return 0
	}
	return n
}
