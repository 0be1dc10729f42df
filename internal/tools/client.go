package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/solarlytics/analyst/internal/models"
)

// Client is an HTTP implementation of Executor against the tool-execution
// service. Each operation is POST {base}/tools/{name} with a JSON parameter
// object; the service answers with the ToolResponse envelope.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a tool-execution client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, op string, params map[string]any) (models.ToolResponse, error) {
	slog.Debug("tools.Client.call: invoking operation", "op", op)

	body, err := json.Marshal(params)
	if err != nil {
		return models.ToolResponse{}, fmt.Errorf("failed to encode params for %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/"+op, bytes.NewReader(body))
	if err != nil {
		return models.ToolResponse{}, fmt.Errorf("failed to build request for %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("tools.Client.call: transport error", "op", op, "error", err)
		return models.ToolResponse{}, fmt.Errorf("tool call %s failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ToolResponse{}, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("tools.Client.call: non-OK status", "op", op, "status", resp.StatusCode)
		return models.ToolResponse{
			Status:  models.DataStatusError,
			Message: fmt.Sprintf("tool service returned HTTP %d", resp.StatusCode),
		}, nil
	}

	return decodeResponse(op, raw), nil
}

// decodeResponse parses the envelope, tolerating services that return a bare
// payload with no status tag. String payloads are opportunistically JSON-parsed
// and left as strings on failure.
func decodeResponse(op string, raw []byte) models.ToolResponse {
	var out models.ToolResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Status == "" {
		slog.Debug("tools.decodeResponse: no envelope, wrapping raw payload", "op", op)
		return models.ToolResponse{Status: models.DataStatusOK, Payload: json.RawMessage(raw)}
	}

	// A payload delivered as a JSON string may itself contain JSON.
	if len(out.Payload) > 0 && out.Payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(out.Payload, &inner); err == nil && json.Valid([]byte(inner)) {
			out.Payload = json.RawMessage(inner)
		}
	}
	return out
}

// ListLoggers returns the device discovery catalog.
func (c *Client) ListLoggers(ctx context.Context) (models.ToolResponse, error) {
	return c.call(ctx, models.OpListLoggers, map[string]any{})
}

// FleetOverview returns site-wide status and production totals.
func (c *Client) FleetOverview(ctx context.Context) (models.ToolResponse, error) {
	return c.call(ctx, models.OpFleetOverview, map[string]any{})
}

// InverterHealth runs anomaly detection for one device over the last days.
func (c *Client) InverterHealth(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return c.call(ctx, models.OpInverterHealth, map[string]any{
		"logger_id": loggerID,
		"days":      days,
	})
}

// PowerCurve returns the power/irradiance timeseries for one date.
func (c *Client) PowerCurve(ctx context.Context, loggerID, date string) (models.ToolResponse, error) {
	return c.call(ctx, models.OpPowerCurve, map[string]any{
		"logger_id": loggerID,
		"date":      date,
	})
}

// CompareLoggers compares devices on a metric for an optional date.
func (c *Client) CompareLoggers(ctx context.Context, loggerIDs []string, metric, date string) (models.ToolResponse, error) {
	params := map[string]any{
		"logger_ids": loggerIDs,
		"metric":     metric,
	}
	if date != "" {
		params["date"] = date
	}
	return c.call(ctx, models.OpCompareLoggers, params)
}

// FinancialSavings calculates money saved and CO2 offset over a range.
func (c *Client) FinancialSavings(ctx context.Context, loggerID string, rng models.DateRange, electricityRate float64) (models.ToolResponse, error) {
	return c.call(ctx, models.OpFinancialSavings, map[string]any{
		"logger_id":        loggerID,
		"start_date":       rng.Start,
		"end_date":         rng.End,
		"electricity_rate": electricityRate,
	})
}

// Forecast predicts production for the next days.
func (c *Client) Forecast(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return c.call(ctx, models.OpForecast, map[string]any{
		"logger_id": loggerID,
		"days":      days,
	})
}

// DiagnoseErrors looks up recorded error codes for one device.
func (c *Client) DiagnoseErrors(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return c.call(ctx, models.OpDiagnoseErrors, map[string]any{
		"logger_id": loggerID,
		"days":      days,
	})
}

// PerformanceRatio computes the performance ratio over a range.
func (c *Client) PerformanceRatio(ctx context.Context, loggerID string, rng models.DateRange) (models.ToolResponse, error) {
	return c.call(ctx, models.OpPerformanceRatio, map[string]any{
		"logger_id":  loggerID,
		"start_date": rng.Start,
		"end_date":   rng.End,
	})
}
