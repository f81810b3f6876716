package models

import (
	"encoding/json"
	"time"
)

// NetworkAnalysisRequest is the body of the network-wide analysis call.
type NetworkAnalysisRequest struct {
	TelemetryData     []map[string]interface{} `json:"telemetry_data"`
	TimeWindowMinutes int                      `json:"time_window_minutes"`
}

// NetworkSummary describes the overall state of the device graph.
type NetworkSummary struct {
	TotalDevices     int      `json:"total_devices"`
	TotalConnections int      `json:"total_connections"`
	HealthScore      float64  `json:"health_score"`
	IsolatedDevices  []string `json:"isolated_devices"`
}

// NetworkReport is the structured result of one network analysis cycle.
// Botnet, lateral movement, coordinated attack and critical device sections
// are passed through as-is; only the summary is consumed by this service.
type NetworkReport struct {
	NetworkSummary    NetworkSummary  `json:"network_summary"`
	BotnetAnalysis    json.RawMessage `json:"botnet_analysis,omitempty"`
	LateralMovement   json.RawMessage `json:"lateral_movement,omitempty"`
	CoordinatedAttack json.RawMessage `json:"coordinated_attack,omitempty"`
	CriticalDevices   json.RawMessage `json:"critical_devices,omitempty"`
	Graph             json.RawMessage `json:"graph,omitempty"`
	DevicesAnalyzed   int             `json:"devices_analyzed"`
	Timestamp         time.Time       `json:"timestamp"`
}
