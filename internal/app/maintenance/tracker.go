package maintenance

import (
	"context"
	"sort"
	"sync"

	"github.com/charlesng35/dbcache/pkg/metrics"
)

const defaultTouchBatchSize = 500

// Toucher refreshes the freshness timestamp of cache rows.
type Toucher interface {
	TouchByIDs(ctx context.Context, ids []int64) error
}

// RecencyTracker buffers the ids of entries that were read and periodically refreshes their
// freshness timestamps in bulk, so reads never write to the cache table themselves.
type RecencyTracker struct {
	toucher   Toucher
	batchSize int

	mu      sync.Mutex
	pending map[int64]struct{}
}

// NewRecencyTracker returns a tracker that flushes through toucher in chunks of batchSize.
func NewRecencyTracker(toucher Toucher, batchSize int) *RecencyTracker {
	if batchSize <= 0 {
		batchSize = defaultTouchBatchSize
	}
	return &RecencyTracker{
		toucher:   toucher,
		batchSize: batchSize,
		pending:   make(map[int64]struct{}),
	}
}

// Record queues ids for the next flush. Repeated ids are kept once.
func (r *RecencyTracker) Record(ids ...int64) {
	if r == nil || len(ids) == 0 {
		return
	}

	r.mu.Lock()
	for _, id := range ids {
		r.pending[id] = struct{}{}
	}
	size := len(r.pending)
	r.mu.Unlock()

	metrics.PendingTouches.Set(float64(size))
}

// Pending returns the number of ids waiting for a flush.
func (r *RecencyTracker) Pending() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush touches every pending id and returns how many were flushed. Ids from a failed chunk
// and every chunk after it are queued again for the next flush.
func (r *RecencyTracker) Flush(ctx context.Context) (int, error) {
	if r == nil || r.toucher == nil {
		return 0, nil
	}

	r.mu.Lock()
	ids := make([]int64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.pending = make(map[int64]struct{})
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	flushed := 0
	for start := 0; start < len(ids); start += r.batchSize {
		end := start + r.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := r.toucher.TouchByIDs(ctx, ids[start:end]); err != nil {
			r.Record(ids[start:]...)
			return flushed, err
		}
		flushed += end - start
	}

	metrics.PendingTouches.Set(float64(r.Pending()))
	return flushed, nil
}
