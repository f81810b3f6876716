package models

import (
	"encoding/json"
	"testing"
)

func TestParseRawTelemetry(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		wantID  string
	}{
		{
			name:    "valid telemetry",
			payload: `{"device_id":"cam-01","device_type":"camera","cpu_usage":41.2}`,
			wantID:  "cam-01",
		},
		{
			name:    "missing device_id",
			payload: `{"device_type":"camera","cpu_usage":41.2}`,
			wantErr: true,
		},
		{
			name:    "device_id wrong type",
			payload: `{"device_id":42}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			payload: `{"device_id":"cam-01"`,
			wantErr: true,
		},
		{
			name:    "not an object",
			payload: `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRawTelemetry([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.DeviceID != tt.wantID {
				t.Errorf("DeviceID = %q, want %q", got.DeviceID, tt.wantID)
			}
		})
	}
}

func TestParseRawTelemetryKeepsUnknownFields(t *testing.T) {
	payload := `{"device_id":"sensor-7","packet_rate":120.5,"custom_field":"hello"}`

	got, err := ParseRawTelemetry([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Fields["custom_field"] != "hello" {
		t.Errorf("unknown field not preserved: %v", got.Fields["custom_field"])
	}
	if got.Fields["packet_rate"] != 120.5 {
		t.Errorf("numeric field not preserved: %v", got.Fields["packet_rate"])
	}
}

func TestDetectionPayloadStripsGroundTruth(t *testing.T) {
	payload := `{"device_id":"cam-01","label":"botnet","attack_label":"ddos","timestamp":"2026-01-01T00:00:00Z","cpu_usage":99.9}`

	raw, err := ParseRawTelemetry([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := raw.DetectionPayload()
	for _, field := range []string{"label", "attack_label", "timestamp"} {
		if _, ok := out[field]; ok {
			t.Errorf("field %q should be stripped from detection payload", field)
		}
	}
	if out["device_id"] != "cam-01" {
		t.Errorf("device_id missing from payload: %v", out["device_id"])
	}
	if out["cpu_usage"] != 99.9 {
		t.Errorf("sensor field missing from payload: %v", out["cpu_usage"])
	}

	// The original message is untouched.
	if raw.Fields["label"] != "botnet" {
		t.Error("stripping must not mutate the original fields")
	}
}

func TestRawTelemetryMarshalRoundTrip(t *testing.T) {
	payload := `{"device_id":"plc-3","is_encrypted":false,"failed_auth_attempts":3}`

	raw, err := ParseRawTelemetry([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["device_id"] != "plc-3" {
		t.Errorf("device_id lost in round trip: %v", fields["device_id"])
	}
	if fields["failed_auth_attempts"] != float64(3) {
		t.Errorf("failed_auth_attempts lost in round trip: %v", fields["failed_auth_attempts"])
	}
}
