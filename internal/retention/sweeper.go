// Package retention deletes detection records past the configured age.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisiot/sentinel/internal/metrics"
)

// Store deletes detections older than the cutoff and reports how many rows
// were removed.
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs an age-based retention sweep on a fixed schedule. One sweep
// runs immediately on Start, then one per interval. A failed sweep is logged
// and retried at the next tick.
type Sweeper struct {
	store    Store
	age      time.Duration
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Sweeper deleting records older than age, sweeping every
// interval.
func New(store Store, age, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		age:      age,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.age)

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}

	metrics.RetentionDeleted.Add(float64(deleted))
	if deleted > 0 {
		slog.Info("retention sweep removed expired detections",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
}

// Stop terminates the sweep loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
