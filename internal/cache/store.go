package cache

import (
	"context"
	"time"
)

// Record is the projection returned by lookups: the row id and its value.
type Record struct {
	ID    int64
	Value []byte
}

// Payload is a single key/value pair written by SetAll.
type Payload struct {
	Key   string
	Value []byte
}

// StaleCutoff selects rows for DeleteStale. Zero fields are ignored.
type StaleCutoff struct {
	// ExpiredAt removes rows whose expires_at is at or before this instant.
	ExpiredAt time.Time
	// IdleBefore removes rows whose freshness timestamp is older than this instant.
	IdleBefore time.Time
}

// UpdateFunc maps the current value of a key to its next value. found is false when the
// key had no row before the update started.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is the operation set exposed by the durable cache.
type Store interface {
	Set(ctx context.Context, key string, value []byte, opts ...WriteOption) error
	SetAll(ctx context.Context, payloads []Payload, opts ...WriteOption) error
	Get(ctx context.Context, key string) (Record, bool, error)
	GetAll(ctx context.Context, keys []string) (map[string]Record, error)
	Delete(ctx context.Context, key string) (bool, error)
	DeleteMatched(ctx context.Context, matcher string, batchSize int) (int64, error)
	Increment(ctx context.Context, key string, amount int64, opts ...WriteOption) (int64, error)
	Update(ctx context.Context, key string, fn UpdateFunc, opts ...WriteOption) ([]byte, error)
	TouchByIDs(ctx context.Context, ids []int64) error
}

// WriteOption customises a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	expiresAt *time.Time
}

// ExpiresAt stores t as the entry's expiry. A zero t stores no expiry.
func ExpiresAt(t time.Time) WriteOption {
	return func(o *writeOptions) {
		if t.IsZero() {
			o.expiresAt = nil
			return
		}
		utc := t.UTC()
		o.expiresAt = &utc
	}
}

func resolveWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

var _ Store = (*EntryStore)(nil)
