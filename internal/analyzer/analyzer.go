// Package analyzer maintains the telemetry window and drives periodic
// network-wide analysis.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"github.com/aegisiot/sentinel/internal/metrics"
	"github.com/aegisiot/sentinel/internal/models"
	"github.com/aegisiot/sentinel/internal/throttle"
	"github.com/aegisiot/sentinel/internal/window"
)

// AnalysisClient issues the network-wide analysis call.
type AnalysisClient interface {
	AnalyzeNetwork(ctx context.Context, req *models.NetworkAnalysisRequest) (*models.NetworkReport, error)
}

// Publisher broadcasts network analysis results to live subscribers.
type Publisher interface {
	SubscriberCount() int
	PublishNetworkUpdate(report *models.NetworkReport)
}

// ReportCache stores the most recent network report for the read API.
type ReportCache interface {
	SetNetworkReport(ctx context.Context, report *models.NetworkReport) error
}

// Config sets the aggregator's window and trigger parameters.
type Config struct {
	WindowCapacity    int
	SnapshotSize      int
	MinDevices        int
	ThrottleInterval  time.Duration
	TimeWindowMinutes int
	CallTimeout       time.Duration
}

// Aggregator appends every inbound telemetry message to a bounded sliding
// window and invokes a rate-limited network analysis over snapshots of that
// window. Analysis failures never affect the window.
type Aggregator struct {
	window   *window.Window
	throttle *throttle.Throttle
	client   AnalysisClient
	pub      Publisher
	cache    ReportCache
	cfg      Config
}

// New creates an Aggregator. cache may be nil.
func New(client AnalysisClient, pub Publisher, cache ReportCache, cfg Config) *Aggregator {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	a := &Aggregator{
		window: window.New(cfg.WindowCapacity),
		client: client,
		pub:    pub,
		cache:  cache,
		cfg:    cfg,
	}
	// Analysis runs off the trigger goroutine so a slow call never blocks
	// ingestion.
	a.throttle = throttle.New(cfg.ThrottleInterval, func() { go a.analyze() })
	return a
}

// Observe records one inbound telemetry message and requests an analysis
// cycle through the throttle.
func (a *Aggregator) Observe(t *models.RawTelemetry) {
	a.window.Append(t)
	a.throttle.Trigger()
}

// WindowLen reports how many telemetry messages the window currently holds.
func (a *Aggregator) WindowLen() int {
	return a.window.Len()
}

// Stop cancels any pending trailing analysis trigger.
func (a *Aggregator) Stop() {
	a.throttle.Stop()
}

func (a *Aggregator) analyze() {
	snapshot := a.window.Snapshot(a.cfg.SnapshotSize)
	if len(snapshot) < a.cfg.MinDevices {
		return
	}
	if a.pub.SubscriberCount() == 0 {
		return
	}

	telemetry := make([]map[string]interface{}, len(snapshot))
	for i, t := range snapshot {
		telemetry[i] = t.DetectionPayload()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CallTimeout)
	defer cancel()

	metrics.AnalysisRuns.Inc()
	report, err := a.client.AnalyzeNetwork(ctx, &models.NetworkAnalysisRequest{
		TelemetryData:     telemetry,
		TimeWindowMinutes: a.cfg.TimeWindowMinutes,
	})
	if err != nil {
		metrics.AnalysisErrors.Inc()
		slog.Error("network analysis failed", slog.String("error", err.Error()))
		return
	}

	a.pub.PublishNetworkUpdate(report)

	if a.cache != nil {
		if err := a.cache.SetNetworkReport(ctx, report); err != nil {
			slog.Warn("failed to cache network report", slog.String("error", err.Error()))
		}
	}

	slog.Debug("network analysis published",
		slog.Int("devices_analyzed", report.DevicesAnalyzed),
		slog.Float64("health_score", report.NetworkSummary.HealthScore),
	)
}
