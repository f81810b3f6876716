package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisiot/sentinel/internal/handlers"
	"github.com/aegisiot/sentinel/internal/hub"
)

// NewRouter constructs a ServeMux with the read API, live event socket, and
// operational endpoints registered.
func NewRouter(h *handlers.Handler, liveHub *hub.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/detections", h.Detections)
	mux.HandleFunc("/api/v1/detections/stats", h.DetectionStats)
	mux.HandleFunc("/api/v1/network/latest", h.NetworkLatest)
	mux.HandleFunc("/api/v1/pipeline/stats", h.PipelineStats)
	mux.HandleFunc("/ws", liveHub.ServeWS)
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
