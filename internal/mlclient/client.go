// Package mlclient communicates with the external ML detection service.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aegisiot/sentinel/internal/models"
)

// Client communicates with the ML detection service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	explained  bool
}

// New constructs a new Client. When explained is true, per-message
// classification uses the SHAP-explained endpoint.
func New(baseURL string, timeout time.Duration, explained bool) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		explained: explained,
	}
}

// detectionResponse mirrors the detection service's response body.
type detectionResponse struct {
	DeviceID            string            `json:"device_id"`
	IsAnomaly           bool              `json:"is_anomaly"`
	ConfidenceScore     *float64          `json:"confidence_score"`
	RiskScore           *int              `json:"risk_score"`
	ThreatType          string            `json:"threat_type"`
	ThreatSeverity      string            `json:"threat_severity"`
	RecommendedActions  []string          `json:"recommended_actions"`
	Explanation         string            `json:"explanation"`
	ModelVotes          map[string]string `json:"model_votes"`
	ShapExplanation     json.RawMessage   `json:"shap_explanation,omitempty"`
	ContributingFactors json.RawMessage   `json:"top_contributing_factors,omitempty"`
}

// Classify sends one telemetry message for classification and returns the
// resulting detection. Ground-truth and client-timestamp fields are stripped
// before sending. The call is not retried; failures propagate to the caller.
func (c *Client) Classify(ctx context.Context, telemetry *models.RawTelemetry) (*models.Detection, error) {
	if c == nil {
		return nil, fmt.Errorf("ml client not configured")
	}

	endpoint := c.baseURL + "/api/ml/detect"
	if c.explained {
		endpoint = c.baseURL + "/api/ml/detect/explained"
	}

	bodyBytes, err := json.Marshal(telemetry.DetectionPayload())
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("detection response status %d: %s", resp.StatusCode, errBody["detail"])
	}

	var result detectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// A classification without scores is a pipeline error, not a record.
	if result.ConfidenceScore == nil || result.RiskScore == nil {
		return nil, fmt.Errorf("detection response missing confidence or risk score for device %s", telemetry.DeviceID)
	}

	detection := &models.Detection{
		DeviceID:            result.DeviceID,
		IsAnomaly:           result.IsAnomaly,
		ConfidenceScore:     *result.ConfidenceScore,
		RiskScore:           *result.RiskScore,
		ThreatType:          result.ThreatType,
		ThreatSeverity:      result.ThreatSeverity,
		RecommendedActions:  result.RecommendedActions,
		Explanation:         result.Explanation,
		ModelVotes:          result.ModelVotes,
		ShapExplanation:     result.ShapExplanation,
		ContributingFactors: result.ContributingFactors,
	}
	if detection.DeviceID == "" {
		detection.DeviceID = telemetry.DeviceID
	}
	if telemetry.DeviceType != "" {
		dt := telemetry.DeviceType
		detection.DeviceType = &dt
	}

	return detection, nil
}

// networkAnalysisResponse mirrors the network analysis endpoint's envelope.
type networkAnalysisResponse struct {
	Success         bool            `json:"success"`
	Analysis        json.RawMessage `json:"analysis"`
	DevicesAnalyzed int             `json:"devices_analyzed"`
	Timestamp       time.Time       `json:"timestamp"`
}

// AnalyzeNetwork issues one network-wide analysis call over a snapshot of
// recent telemetry.
func (c *Client) AnalyzeNetwork(ctx context.Context, req *models.NetworkAnalysisRequest) (*models.NetworkReport, error) {
	if c == nil {
		return nil, fmt.Errorf("ml client not configured")
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ml/network/analyze", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("network analysis response status %d: %s", resp.StatusCode, errBody["detail"])
	}

	var envelope networkAnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("network analysis reported failure")
	}

	var report models.NetworkReport
	if err := json.Unmarshal(envelope.Analysis, &report); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	report.DevicesAnalyzed = envelope.DevicesAnalyzed
	report.Timestamp = envelope.Timestamp
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	return &report, nil
}

// Health checks the detection service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("ml client not configured")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health response status %d", resp.StatusCode)
	}

	return nil
}
