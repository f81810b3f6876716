package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawTelemetry is one device's reported measurement at one instant, as
// published on the devices.*.telemetry subject. Sensor fields are free-form;
// only device_id is required. The message is never persisted on its own,
// only as an optional attachment on a Detection.
type RawTelemetry struct {
	DeviceID   string                 `json:"device_id"`
	DeviceType string                 `json:"device_type,omitempty"`
	Timestamp  string                 `json:"timestamp,omitempty"`
	Fields     map[string]interface{} `json:"-"`
}

// fields stripped before the payload is forwarded to the detection service:
// ground-truth labels from simulators and the client-supplied timestamp.
var strippedFields = map[string]bool{
	"label":        true,
	"attack_label": true,
	"timestamp":    true,
}

// ParseRawTelemetry decodes a telemetry payload, keeping unknown sensor
// fields in Fields. Returns an error for malformed JSON or a missing
// device_id.
func ParseRawTelemetry(data []byte) (*RawTelemetry, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}

	t := &RawTelemetry{Fields: fields}
	if v, ok := fields["device_id"].(string); ok {
		t.DeviceID = v
	}
	if t.DeviceID == "" {
		return nil, fmt.Errorf("telemetry missing device_id")
	}
	if v, ok := fields["device_type"].(string); ok {
		t.DeviceType = v
	}
	if v, ok := fields["timestamp"].(string); ok {
		t.Timestamp = v
	}

	return t, nil
}

// DetectionPayload returns the fields sent to the detection service, with
// ground-truth and client-timestamp fields stripped.
func (t *RawTelemetry) DetectionPayload() map[string]interface{} {
	payload := make(map[string]interface{}, len(t.Fields))
	for k, v := range t.Fields {
		if strippedFields[k] {
			continue
		}
		payload[k] = v
	}
	return payload
}

// MarshalJSON serializes the full telemetry including free-form fields.
func (t *RawTelemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Fields)
}

// Severity levels assigned by the detection service.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

// Detection is the classification of one telemetry message. EventID is
// assigned at classification time so live subscribers can reference the
// detection before (or without) a database row id. All scoring fields come
// from the detection service unmodified.
type Detection struct {
	ID                  int64                  `json:"id,omitempty"`
	EventID             string                 `json:"event_id"`
	DeviceID            string                 `json:"device_id"`
	DeviceType          *string                `json:"device_type,omitempty"`
	IsAnomaly           bool                   `json:"is_anomaly"`
	ConfidenceScore     float64                `json:"confidence_score"`
	RiskScore           int                    `json:"risk_score"`
	ThreatType          string                 `json:"threat_type"`
	ThreatSeverity      string                 `json:"threat_severity"`
	Explanation         string                 `json:"explanation"`
	ModelVotes          map[string]string      `json:"model_votes"`
	RecommendedActions  []string               `json:"recommended_actions"`
	ShapExplanation     json.RawMessage        `json:"shap_explanation,omitempty"`
	ContributingFactors json.RawMessage        `json:"top_contributing_factors,omitempty"`
	RawTelemetry        map[string]interface{} `json:"raw_telemetry,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// DetectionFilter narrows detection queries.
type DetectionFilter struct {
	DeviceID  string
	Severity  string
	IsAnomaly *bool
	From      *time.Time
	To        *time.Time
	Limit     int
}

// DetectionStats aggregates stored detections for the read API.
type DetectionStats struct {
	Total      int64            `json:"total"`
	Anomalies  int64            `json:"anomalies"`
	BySeverity map[string]int64 `json:"by_severity"`
}
