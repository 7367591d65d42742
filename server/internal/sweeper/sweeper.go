package sweeper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syndicate/syndicate/server/internal/metrics"
)

// Store is the subset of *store.Store the sweeper needs.
type Store interface {
	EvictStale(threshold time.Duration, now time.Time) ([]string, error)
}

// Options configures a Sweeper.
type Options struct {
	// Interval between sweeps.
	Interval time.Duration

	// Expiration is the initial silence threshold; see SetExpiration.
	Expiration time.Duration

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Evicted is called with the IDs removed by a sweep.
	Evicted func(sourceIDs []string)

	// Fault is called when a sweep fails to persist.
	Fault func(error)
}

// Sweeper runs the eviction loop.
type Sweeper struct {
	store      Store
	interval   time.Duration
	expiration atomic.Int64
	opts       Options
	now        func() time.Time // injectable for deterministic tests
}

// New creates a Sweeper.
func New(st Store, opts Options) *Sweeper {
	s := &Sweeper{store: st, interval: opts.Interval, opts: opts, now: time.Now}
	s.expiration.Store(int64(opts.Expiration))
	return s
}

// SetExpiration changes the silence threshold used by subsequent sweeps.
func (s *Sweeper) SetExpiration(d time.Duration) {
	if d <= 0 {
		return
	}
	s.expiration.Store(int64(d))
}

// Expiration returns the current silence threshold.
func (s *Sweeper) Expiration() time.Duration {
	return time.Duration(s.expiration.Load())
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper: started", "interval", s.interval, "expiration", s.Expiration())
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper: stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the removed IDs.
func (s *Sweeper) Sweep() []string {
	removed, err := s.store.EvictStale(s.Expiration(), s.now())
	if err != nil {
		slog.Error("sweeper: eviction not persisted", "err", err)
		if s.opts.Fault != nil {
			s.opts.Fault(err)
		}
		return nil
	}
	if len(removed) == 0 {
		return nil
	}

	slog.Info("sweeper: evicted silent sources", "count", len(removed), "source_ids", removed)
	s.opts.Metrics.RecordEvictions(len(removed))
	if s.opts.Evicted != nil {
		s.opts.Evicted(removed)
	}
	return removed
}
