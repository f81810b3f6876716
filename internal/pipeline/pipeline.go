// Package pipeline implements the ingress queue and concurrency-limited
// detection pump.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisiot/sentinel/internal/metrics"
	"github.com/aegisiot/sentinel/internal/models"
)

// queueWarnDepth is the depth above which sustained overload is logged. The
// queue itself is unbounded: under overload it grows rather than dropping
// messages.
const queueWarnDepth = 10000

// Classifier turns one raw telemetry message into a detection.
type Classifier interface {
	Classify(ctx context.Context, telemetry *models.RawTelemetry) (*models.Detection, error)
}

// Stager accepts classified detections for batched persistence.
type Stager interface {
	Stage(d *models.Detection)
}

// Publisher broadcasts classified detections to live subscribers.
type Publisher interface {
	PublishDetection(d *models.Detection)
}

// Observer receives every inbound raw telemetry message, independent of the
// detection path.
type Observer interface {
	Observe(t *models.RawTelemetry)
}

// DeadLetter records messages whose classification failed. Optional.
type DeadLetter interface {
	Write(ctx context.Context, payload []byte, reason string, cause error) error
}

// Stats is a snapshot of pipeline counters for the read API.
type Stats struct {
	QueueDepth int   `json:"queue_depth"`
	InFlight   int   `json:"in_flight"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

// Pipeline is the ingress queue plus worker pump. Messages are dequeued in
// FIFO order and processed with at most `concurrency` detection calls in
// flight; completion order is not guaranteed. A message whose processing
// fails is logged and dropped without affecting other in-flight work.
type Pipeline struct {
	mu       sync.Mutex
	queue    []*models.RawTelemetry
	inFlight int
	stopped  bool

	processed int64
	failed    int64

	concurrency int
	classifier  Classifier
	stager      Stager
	pub         Publisher
	observer    Observer
	dlq         DeadLetter

	wg sync.WaitGroup
}

// New creates a Pipeline. dlq may be nil.
func New(classifier Classifier, stager Stager, pub Publisher, observer Observer, dlq DeadLetter, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		concurrency: concurrency,
		classifier:  classifier,
		stager:      stager,
		pub:         pub,
		observer:    observer,
		dlq:         dlq,
	}
}

// Enqueue appends a message to the ingress queue and starts processing if a
// concurrency slot is free. It never blocks and never drops.
func (p *Pipeline) Enqueue(t *models.RawTelemetry) {
	// The window observes every inbound message regardless of what the
	// detection path later does with it.
	if p.observer != nil {
		p.observer.Observe(t)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, t)
	depth := len(p.queue)
	p.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	if depth == queueWarnDepth {
		slog.Warn("ingress queue depth high, downstream may be overloaded", slog.Int("depth", depth))
	}

	p.pump()
}

// pump starts tasks for queued messages while concurrency slots are free.
func (p *Pipeline) pump() {
	for {
		p.mu.Lock()
		if p.stopped || p.inFlight >= p.concurrency || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight++
		depth := len(p.queue)
		inFlight := p.inFlight
		p.mu.Unlock()

		metrics.QueueDepth.Set(float64(depth))
		metrics.InFlight.Set(float64(inFlight))

		p.wg.Add(1)
		go p.process(t)
	}
}

// process classifies one message, stages the record and publishes the live
// event. Every spawned task's completion is observed exactly once, even on
// error, so the slot is always released.
func (p *Pipeline) process(t *models.RawTelemetry) {
	defer func() {
		p.mu.Lock()
		p.inFlight--
		inFlight := p.inFlight
		p.mu.Unlock()

		metrics.InFlight.Set(float64(inFlight))
		p.wg.Done()

		// Re-invoke the pump so a waiting message can take the freed slot.
		p.pump()
	}()

	start := time.Now()
	detection, err := p.classifier.Classify(context.Background(), t)
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()

		metrics.DetectionErrors.Inc()
		metrics.TelemetryTotal.WithLabelValues("failed").Inc()
		slog.Error("detection failed, message dropped",
			slog.String("device_id", t.DeviceID),
			slog.String("error", err.Error()),
		)

		if p.dlq != nil {
			payload, marshalErr := t.MarshalJSON()
			if marshalErr == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = p.dlq.Write(ctx, payload, "detection_failed", err)
				cancel()
			}
		}
		return
	}

	detection.EventID = uuid.New().String()
	detection.CreatedAt = time.Now().UTC()
	detection.RawTelemetry = t.Fields

	p.mu.Lock()
	p.processed++
	p.mu.Unlock()

	metrics.TelemetryTotal.WithLabelValues("processed").Inc()
	if detection.IsAnomaly {
		metrics.AnomaliesTotal.WithLabelValues(detection.ThreatSeverity).Inc()
	}

	p.stager.Stage(detection)
	p.pub.PublishDetection(detection)
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueueDepth: len(p.queue),
		InFlight:   p.inFlight,
		Processed:  p.processed,
		Failed:     p.failed,
	}
}

// Stop prevents new tasks from starting and waits for in-flight tasks to
// complete. Messages still queued are dropped; stop the source adapter
// before calling Stop to bound that loss.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
}
