// Package handlers implements the HTTP read API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aegisiot/sentinel/internal/cache"
	"github.com/aegisiot/sentinel/internal/httputil"
	"github.com/aegisiot/sentinel/internal/models"
	"github.com/aegisiot/sentinel/internal/pipeline"
	"github.com/aegisiot/sentinel/internal/repository"
)

// ReportSource serves the most recent network analysis report.
type ReportSource interface {
	GetNetworkReport(ctx context.Context) (*models.NetworkReport, error)
}

// StatsSource reports live pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// StagedSource reports how many detection records await the next flush.
type StagedSource interface {
	Len() int
}

// BusStatus reports whether the telemetry bus connection is up.
type BusStatus interface {
	IsConnected() bool
}

// DetectorHealth probes the detection service.
type DetectorHealth interface {
	Health(ctx context.Context) error
}

// Handler serves the read API. reports may be nil when the report cache is
// disabled.
type Handler struct {
	repo     repository.Repository
	reports  ReportSource
	pipe     StatsSource
	staged   StagedSource
	bus      BusStatus
	detector DetectorHealth
}

// New creates a Handler.
func New(repo repository.Repository, reports ReportSource, pipe StatsSource, staged StagedSource, bus BusStatus, detector DetectorHealth) *Handler {
	return &Handler{
		repo:     repo,
		reports:  reports,
		pipe:     pipe,
		staged:   staged,
		bus:      bus,
		detector: detector,
	}
}

// Detections handles GET /api/v1/detections.
func (h *Handler) Detections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	detections, err := h.repo.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list detections")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"detections": detections,
		"count":      len(detections),
	})
}

// DetectionStats handles GET /api/v1/detections/stats.
func (h *Handler) DetectionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = ts
	}

	stats, err := h.repo.Stats(r.Context(), since)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// NetworkLatest handles GET /api/v1/network/latest.
func (h *Handler) NetworkLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if h.reports == nil {
		httputil.WriteError(w, http.StatusNotFound, "report cache disabled")
		return
	}

	report, err := h.reports.GetNetworkReport(r.Context())
	if errors.Is(err, cache.ErrNoReport) {
		httputil.WriteError(w, http.StatusNotFound, "no network report available yet")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load network report")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, report)
}

// PipelineStats handles GET /api/v1/pipeline/stats.
func (h *Handler) PipelineStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := h.pipe.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queue_depth":    stats.QueueDepth,
		"in_flight":      stats.InFlight,
		"processed":      stats.Processed,
		"failed":         stats.Failed,
		"staged_records": h.staged.Len(),
	})
}

// Healthz handles GET /healthz. Liveness only: the process is up.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. Readiness aggregates the database, the
// telemetry bus, and the detection service.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
		"bus":      "ok",
		"detector": "ok",
	}
	ready := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	}
	if !h.bus.IsConnected() {
		checks["bus"] = "disconnected"
		ready = false
	}
	if err := h.detector.Health(ctx); err != nil {
		checks["detector"] = err.Error()
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	httputil.WriteJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

func parseFilter(r *http.Request) (*models.DetectionFilter, error) {
	q := r.URL.Query()
	filter := &models.DetectionFilter{
		DeviceID: q.Get("device_id"),
		Severity: q.Get("severity"),
	}

	if v := q.Get("is_anomaly"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("is_anomaly must be true or false")
		}
		filter.IsAnomaly = &b
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("from must be RFC3339")
		}
		filter.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("to must be RFC3339")
		}
		filter.To = &ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}

	return filter, nil
}
