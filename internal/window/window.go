// Package window holds the sliding window of recent telemetry that feeds
// network analysis.
package window

import (
	"sync"

	"github.com/aegisiot/sentinel/internal/models"
)

// Window is a fixed-capacity ring buffer of the most recent telemetry
// messages across all devices. When full, each append evicts the oldest
// entry. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	buf   []*models.RawTelemetry
	head  int
	count int
}

// New creates a Window with the given capacity.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]*models.RawTelemetry, capacity)}
}

// Append adds a telemetry message, evicting the oldest entry if at capacity.
func (w *Window) Append(t *models.RawTelemetry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[w.head] = t
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of entries currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Capacity returns the fixed capacity of the window.
func (w *Window) Capacity() int {
	return len(w.buf)
}

// Snapshot returns a copy of the most recent n entries in insertion order,
// oldest first. If fewer than n entries are held, all of them are returned.
func (w *Window) Snapshot(n int) []*models.RawTelemetry {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > w.count {
		n = w.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]*models.RawTelemetry, n)
	// head points at the slot the next append will overwrite, so the newest
	// entry sits just behind it.
	start := (w.head - n + len(w.buf)) % len(w.buf)
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
