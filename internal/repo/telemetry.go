package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aegisstack/aegis-detect/internal/cache"
	"github.com/aegisstack/aegis-detect/internal/models"
)

// TelemetryClient wraps the metrics/logs aggregation APIs the engine polls.
// Fetches are cached read-through keyed on the requested window.
type TelemetryClient struct {
	baseURL     string
	metricsPath string
	logsPath    string
	httpClient  *http.Client

	cache    cache.Provider
	cacheTTL time.Duration
}

// NewTelemetryClient constructs a client targeting the configured telemetry
// service. provider may be nil to disable caching.
func NewTelemetryClient(baseURL, metricsPath, logsPath string, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration) *TelemetryClient {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &TelemetryClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		metricsPath: metricsPath,
		logsPath:    logsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    provider,
		cacheTTL: cacheTTL,
	}
}

// FetchMetrics queries the telemetry service for metric samples in [start, end).
func (c *TelemetryClient) FetchMetrics(ctx context.Context, start, end time.Time) ([]models.MetricSample, error) {
	if c == nil {
		return nil, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	key := fmt.Sprintf("telemetry:metrics:%d:%d", start.Unix(), end.Unix())
	if cached, err := c.cache.Get(ctx, key); err == nil {
		var samples []models.MetricSample
		if err := json.Unmarshal(cached, &samples); err == nil {
			return samples, nil
		}
	}

	payload := map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}

	var response struct {
		Samples []models.MetricSample `json:"samples"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry metrics request failed: %w", err)
	}

	if data, err := json.Marshal(response.Samples); err == nil {
		_ = c.cache.Set(ctx, key, data, c.cacheTTL)
	}
	return response.Samples, nil
}

// FetchLogs queries the telemetry service for log entries in [start, end).
func (c *TelemetryClient) FetchLogs(ctx context.Context, start, end time.Time) ([]models.LogEntry, error) {
	if c == nil {
		return nil, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	key := fmt.Sprintf("telemetry:logs:%d:%d", start.Unix(), end.Unix())
	if cached, err := c.cache.Get(ctx, key); err == nil {
		var entries []models.LogEntry
		if err := json.Unmarshal(cached, &entries); err == nil {
			return entries, nil
		}
	}

	payload := map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}

	var response struct {
		Entries []models.LogEntry `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.logsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry logs request failed: %w", err)
	}

	if data, err := json.Marshal(response.Entries); err == nil {
		_ = c.cache.Set(ctx, key, data, c.cacheTTL)
	}
	return response.Entries, nil
}

func (c *TelemetryClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TelemetryClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry service returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
