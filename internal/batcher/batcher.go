// Package batcher accumulates detection records and writes them to storage
// in bounded batches.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisiot/sentinel/internal/metrics"
	"github.com/aegisiot/sentinel/internal/models"
)

// highWaterFactor triggers an out-of-band flush when the buffer reaches this
// multiple of the batch size.
const highWaterFactor = 3

// Sink receives batched detection writes.
type Sink interface {
	InsertBatch(ctx context.Context, detections []*models.Detection) error
}

// Batcher buffers staged detections and flushes them to the sink on a timer,
// when the buffer passes the high-water mark, and once more on shutdown.
// Flushes are single-flight: a flush that finds another in progress is a
// no-op. Records removed from the buffer for a failed write are not restored.
type Batcher struct {
	mu       sync.Mutex
	buffer   []*models.Detection
	flushing bool

	sink      Sink
	batchSize int
	interval  time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Batcher writing batches of up to batchSize records to the
// sink, with a timer flush every interval.
func New(sink Sink, batchSize int, interval time.Duration) *Batcher {
	return &Batcher{
		sink:      sink,
		batchSize: batchSize,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the timer flush loop.
func (b *Batcher) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopChan:
				return
			case <-ticker.C:
				b.Flush(ctx)
			}
		}
	}()
}

// Stage appends a record to the buffer. If the buffer has reached the
// high-water mark, an out-of-band flush is triggered in addition to the
// timer flush.
func (b *Batcher) Stage(d *models.Detection) {
	b.mu.Lock()
	b.buffer = append(b.buffer, d)
	depth := len(b.buffer)
	b.mu.Unlock()

	metrics.BufferedRecords.Set(float64(depth))

	if depth >= highWaterFactor*b.batchSize {
		go b.Flush(context.Background())
	}
}

// Flush writes up to one batch of the oldest buffered records to the sink.
// It returns the number of records handed to the sink. Concurrent calls
// while a flush is running are no-ops, as is a flush of an empty buffer.
// On a sink failure the removed records are not restored; the failure is
// logged and counted.
func (b *Batcher) Flush(ctx context.Context) int {
	b.mu.Lock()
	if b.flushing || len(b.buffer) == 0 {
		b.mu.Unlock()
		return 0
	}
	b.flushing = true

	n := b.batchSize
	if n > len(b.buffer) {
		n = len(b.buffer)
	}
	batch := b.buffer[:n]
	b.buffer = b.buffer[n:]
	depth := len(b.buffer)
	b.mu.Unlock()

	metrics.BufferedRecords.Set(float64(depth))

	start := time.Now()
	err := b.sink.InsertBatch(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	b.mu.Lock()
	b.flushing = false
	b.mu.Unlock()

	if err != nil {
		metrics.FlushErrors.Inc()
		slog.Error("batch flush failed, records dropped",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		return n
	}

	metrics.FlushSize.Observe(float64(len(batch)))
	slog.Debug("batch flushed", slog.Int("records", len(batch)), slog.Int("remaining", depth))
	return n
}

// Drain performs the shutdown flush: it repeatedly flushes until the buffer
// is empty. The buffer is empty when Drain returns.
func (b *Batcher) Drain(ctx context.Context) {
	for {
		b.mu.Lock()
		empty := len(b.buffer) == 0
		busy := b.flushing
		b.mu.Unlock()

		if empty && !busy {
			return
		}
		if busy {
			// Let the in-progress flush finish before taking another batch.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		b.Flush(ctx)
	}
}

// Stop terminates the timer loop. It does not flush; call Drain first.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
}

// Len returns the number of records currently staged.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
