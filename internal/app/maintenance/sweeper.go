package maintenance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/dbcache/internal/cache"
	"github.com/charlesng35/dbcache/pkg/logger"
)

const (
	defaultTouchSpec = "@every 30s"
	defaultSweepSpec = "@every 5m"
	defaultMaxIdle   = 14 * 24 * time.Hour

	JobTouchFlush = "touch_flush"
	JobStaleSweep = "stale_sweep"
)

// JobStatus reports the outcome of the most recent runs of a maintenance job.
type JobStatus struct {
	Job                 string    `json:"job"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastError           string    `json:"last_error,omitempty"`
	TotalRuns           int       `json:"total_runs"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// StaleDeleter removes expired and idle cache rows in batches.
type StaleDeleter interface {
	DeleteStale(ctx context.Context, cutoff cache.StaleCutoff, batchSize int) (int64, error)
}

// Sweeper coordinates background cache maintenance: flushing buffered touches and purging
// expired or long-idle entries.
type Sweeper struct {
	store     StaleDeleter
	tracker   *RecencyTracker
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	maxIdle   time.Duration
	batchSize int

	touchSchedule string
	sweepSchedule string

	mu   sync.Mutex
	jobs map[string]*JobStatus
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxIdle sets how long an entry may go untouched before the sweep removes it.
// A negative duration disables idle eviction; zero keeps the default.
func WithMaxIdle(d time.Duration) Option {
	return func(s *Sweeper) {
		if d != 0 {
			s.maxIdle = d
		}
	}
}

// WithBatchSize bounds how many rows each sweep round trip deletes.
func WithBatchSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithTouchSchedule overrides the cron specification for flushing touches.
func WithTouchSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.touchSchedule = spec
		}
	}
}

// WithSweepSchedule overrides the cron specification for the stale entry sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper. A nil store or tracker skips the corresponding job.
func NewSweeper(store StaleDeleter, tracker *RecencyTracker, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		store:         store,
		tracker:       tracker,
		now:           time.Now,
		log:           logger.WithModule("maintenance"),
		maxIdle:       defaultMaxIdle,
		batchSize:     cache.DefaultBatchSize,
		touchSchedule: defaultTouchSpec,
		sweepSchedule: defaultSweepSpec,
		jobs:          make(map[string]*JobStatus),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the maintenance jobs and launches the scheduler.
func (s *Sweeper) Start() error {
	if s.tracker == nil && s.store == nil {
		return nil
	}

	if s.tracker != nil {
		if _, err := s.cron.AddFunc(s.touchSchedule, func() {
			if err := s.flushTouches(context.Background()); err != nil {
				s.log.Warn("touch flush failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.store != nil {
		if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
			if _, err := s.SweepStale(context.Background()); err != nil {
				s.log.Warn("stale sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce flushes pending touches and then sweeps stale entries. Touches go first so entries
// read since the last flush are not swept as idle.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.tracker != nil {
		errs = multierr.Append(errs, s.flushTouches(ctx))
	}

	if s.store != nil {
		_, err := s.SweepStale(ctx)
		errs = multierr.Append(errs, err)
	}

	return errs
}

// SweepStale deletes rows that expired or sat idle longer than the configured maximum.
func (s *Sweeper) SweepStale(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, errors.New("sweep stale: store is required")
	}

	now := s.now()
	cutoff := cache.StaleCutoff{ExpiredAt: now}
	if s.maxIdle > 0 {
		cutoff.IdleBefore = now.Add(-s.maxIdle)
	}

	deleted, err := s.store.DeleteStale(ctx, cutoff, s.batchSize)
	s.record(JobStaleSweep, now, err)
	if deleted > 0 {
		s.log.Info("swept stale cache entries", zap.Int64("deleted", deleted))
	}
	return deleted, err
}

// Status returns the run history of every job that has executed at least once, sorted by name.
func (s *Sweeper) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		statuses = append(statuses, *job)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Job < statuses[j].Job })
	return statuses
}

func (s *Sweeper) flushTouches(ctx context.Context) error {
	_, err := s.tracker.Flush(ctx)
	s.record(JobTouchFlush, s.now(), err)
	return err
}

func (s *Sweeper) record(job string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.jobs[job]
	if !ok {
		status = &JobStatus{Job: job}
		s.jobs[job] = status
	}

	status.LastRunAt = at
	status.TotalRuns++
	if err != nil {
		status.LastError = err.Error()
		status.ConsecutiveFailures++
		return
	}
	status.LastError = ""
	status.ConsecutiveFailures = 0
}
