package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aegisiot/sentinel/internal/models"
)

type mockClassifier struct {
	mu         sync.Mutex
	inFlight   int32
	maxSeen    int32
	calls      int32
	err        error
	delay      time.Duration
	failDevice string
}

func (m *mockClassifier) Classify(ctx context.Context, t *models.RawTelemetry) (*models.Detection, error) {
	cur := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	atomic.AddInt32(&m.calls, 1)

	m.mu.Lock()
	if cur > m.maxSeen {
		m.maxSeen = cur
	}
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.failDevice != "" && t.DeviceID == m.failDevice {
		return nil, errors.New("detector unavailable")
	}
	return &models.Detection{
		DeviceID:       t.DeviceID,
		IsAnomaly:      false,
		ThreatSeverity: models.SeverityInfo,
	}, nil
}

func (m *mockClassifier) max() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

type mockStager struct {
	mu     sync.Mutex
	staged []*models.Detection
}

func (m *mockStager) Stage(d *models.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = append(m.staged, d)
}

func (m *mockStager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

type mockPublisher struct {
	mu        sync.Mutex
	published []*models.Detection
}

func (m *mockPublisher) PublishDetection(d *models.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, d)
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type mockObserver struct {
	observed int32
}

func (m *mockObserver) Observe(t *models.RawTelemetry) {
	atomic.AddInt32(&m.observed, 1)
}

func telemetry(i int) *models.RawTelemetry {
	id := fmt.Sprintf("device-%d", i)
	return &models.RawTelemetry{
		DeviceID: id,
		Fields:   map[string]interface{}{"device_id": id, "cpu_usage": float64(i)},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessesEveryMessage(t *testing.T) {
	classifier := &mockClassifier{}
	stager := &mockStager{}
	pub := &mockPublisher{}
	obs := &mockObserver{}
	p := New(classifier, stager, pub, obs, nil, 4)

	for i := 0; i < 25; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool { return stager.count() == 25 })
	if pub.count() != 25 {
		t.Errorf("published = %d, want 25", pub.count())
	}
	if got := atomic.LoadInt32(&obs.observed); got != 25 {
		t.Errorf("observed = %d, want 25", got)
	}

	stats := p.Stats()
	if stats.Processed != 25 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 25 processed, 0 failed", stats)
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	classifier := &mockClassifier{delay: 30 * time.Millisecond}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 3)

	for i := 0; i < 20; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool { return stager.count() == 20 })
	if max := classifier.max(); max > 3 {
		t.Errorf("max concurrent classifications = %d, want at most 3", max)
	}
}

func TestSerialProcessingPreservesEnqueueOrder(t *testing.T) {
	classifier := &mockClassifier{delay: 5 * time.Millisecond}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 1)

	for i := 0; i < 3; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool { return pub.count() == 3 })

	// With one slot, messages complete strictly in enqueue order, so both
	// the staged records and the live publishes preserve it.
	want := []string{"device-0", "device-1", "device-2"}
	pub.mu.Lock()
	for i, w := range want {
		if pub.published[i].DeviceID != w {
			t.Errorf("published[%d] = %s, want %s", i, pub.published[i].DeviceID, w)
		}
	}
	pub.mu.Unlock()

	stager.mu.Lock()
	for i, w := range want {
		if stager.staged[i].DeviceID != w {
			t.Errorf("staged[%d] = %s, want %s", i, stager.staged[i].DeviceID, w)
		}
	}
	stager.mu.Unlock()
}

func TestWiderCeilingPublishesAllMessages(t *testing.T) {
	classifier := &mockClassifier{delay: 5 * time.Millisecond}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 3)

	for i := 0; i < 3; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool { return pub.count() == 3 })

	// Completion order is unconstrained with concurrent slots, but every
	// message must surface exactly once.
	seen := map[string]int{}
	pub.mu.Lock()
	for _, d := range pub.published {
		seen[d.DeviceID]++
	}
	pub.mu.Unlock()

	for _, id := range []string{"device-0", "device-1", "device-2"} {
		if seen[id] != 1 {
			t.Errorf("device %s published %d times, want 1", id, seen[id])
		}
	}
}

func TestFailedDetectionIsDropped(t *testing.T) {
	classifier := &mockClassifier{failDevice: "device-3"}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 2)

	for i := 0; i < 10; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool {
		s := p.Stats()
		return s.Processed+s.Failed == 10
	})

	if stager.count() != 9 {
		t.Errorf("staged = %d, want 9", stager.count())
	}
	if pub.count() != 9 {
		t.Errorf("published = %d, want 9", pub.count())
	}

	stats := p.Stats()
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
}

func TestFailureObservedByWindow(t *testing.T) {
	classifier := &mockClassifier{err: errors.New("detector down")}
	stager := &mockStager{}
	pub := &mockPublisher{}
	obs := &mockObserver{}
	p := New(classifier, stager, pub, obs, nil, 2)

	for i := 0; i < 5; i++ {
		p.Enqueue(telemetry(i))
	}

	waitFor(t, func() bool { return p.Stats().Failed == 5 })

	// The window sees every inbound message even when classification fails.
	if got := atomic.LoadInt32(&obs.observed); got != 5 {
		t.Errorf("observed = %d, want 5", got)
	}
	if stager.count() != 0 {
		t.Errorf("staged = %d, want 0", stager.count())
	}
}

func TestDetectionGetsIdentityFields(t *testing.T) {
	classifier := &mockClassifier{}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 1)

	p.Enqueue(telemetry(1))
	waitFor(t, func() bool { return stager.count() == 1 })

	d := stager.staged[0]
	if d.EventID == "" {
		t.Error("EventID not assigned")
	}
	if d.CreatedAt.IsZero() {
		t.Error("CreatedAt not assigned")
	}
	if d.RawTelemetry == nil {
		t.Error("raw telemetry not attached")
	}
}

func TestStopWaitsForInFlight(t *testing.T) {
	classifier := &mockClassifier{delay: 50 * time.Millisecond}
	stager := &mockStager{}
	pub := &mockPublisher{}
	p := New(classifier, stager, pub, nil, nil, 4)

	for i := 0; i < 4; i++ {
		p.Enqueue(telemetry(i))
	}
	p.Stop()

	if stager.count() != 4 {
		t.Errorf("staged after Stop = %d, want 4 (in-flight work completes)", stager.count())
	}
	if p.Stats().InFlight != 0 {
		t.Errorf("in-flight after Stop = %d, want 0", p.Stats().InFlight)
	}

	// New messages after Stop are ignored.
	p.Enqueue(telemetry(99))
	time.Sleep(20 * time.Millisecond)
	if stager.count() != 4 {
		t.Errorf("staged after post-Stop enqueue = %d, want 4", stager.count())
	}
}
