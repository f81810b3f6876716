package repository

import (
	"encoding/json"
	"testing"
)

func TestMarshalOrNull(t *testing.T) {
	got, err := marshalOrNull(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("marshalOrNull(nil) = %v, want nil", *got)
	}

	got, err = marshalOrNull(map[string]string{"isolation_forest": "anomaly"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("marshalOrNull returned nil for a value")
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(*got), &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["isolation_forest"] != "anomaly" {
		t.Errorf("round trip lost data: %v", decoded)
	}
}

func TestRawJSONOrNull(t *testing.T) {
	if got := rawJSONOrNull(nil); got != nil {
		t.Errorf("rawJSONOrNull(nil) = %v, want nil", *got)
	}
	if got := rawJSONOrNull(json.RawMessage(``)); got != nil {
		t.Errorf("rawJSONOrNull(empty) = %v, want nil", *got)
	}

	raw := json.RawMessage(`{"cpu_usage":0.7}`)
	got := rawJSONOrNull(raw)
	if got == nil || *got != `{"cpu_usage":0.7}` {
		t.Errorf("rawJSONOrNull = %v, want original JSON", got)
	}
}
