// Package tools is the client side of the tool-execution boundary: every
// analysis operation is an opaque asynchronous RPC returning the tagged
// ToolResponse envelope. The orchestrator never interprets payloads beyond
// the status tag and the optional available range.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solarlytics/analyst/internal/models"
)

// Executor exposes the analysis operations of the tool-execution service.
// The orchestrator depends on this interface; tests supply stubs.
type Executor interface {
	// ListLoggers returns the device discovery catalog.
	ListLoggers(ctx context.Context) (models.ToolResponse, error)

	// FleetOverview returns site-wide status and production totals.
	FleetOverview(ctx context.Context) (models.ToolResponse, error)

	// InverterHealth runs anomaly detection for one device over the last days.
	InverterHealth(ctx context.Context, loggerID string, days int) (models.ToolResponse, error)

	// PowerCurve returns the power/irradiance timeseries for one date.
	PowerCurve(ctx context.Context, loggerID, date string) (models.ToolResponse, error)

	// CompareLoggers compares 2-5 devices on a metric for an optional date.
	CompareLoggers(ctx context.Context, loggerIDs []string, metric, date string) (models.ToolResponse, error)

	// FinancialSavings calculates money saved and CO2 offset over a range.
	FinancialSavings(ctx context.Context, loggerID string, rng models.DateRange, electricityRate float64) (models.ToolResponse, error)

	// Forecast predicts production for the next days.
	Forecast(ctx context.Context, loggerID string, days int) (models.ToolResponse, error)

	// DiagnoseErrors looks up recorded error codes for one device.
	DiagnoseErrors(ctx context.Context, loggerID string, days int) (models.ToolResponse, error)

	// PerformanceRatio computes the performance ratio over a range.
	PerformanceRatio(ctx context.Context, loggerID string, rng models.DateRange) (models.ToolResponse, error)
}

// loggerListPayload is the {count, loggers} envelope of a list_loggers payload.
type loggerListPayload struct {
	Count   int                 `json:"count"`
	Loggers []models.LoggerInfo `json:"loggers"`
}

// DecodeLoggerList parses the payload of a list_loggers response. A bare
// array payload is accepted as well as the {count, loggers} envelope.
func DecodeLoggerList(resp models.ToolResponse) ([]models.LoggerInfo, error) {
	if !resp.Status.Succeeded() {
		return nil, fmt.Errorf("list_loggers returned status %s", resp.Status)
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	var envelope loggerListPayload
	if err := json.Unmarshal(resp.Payload, &envelope); err == nil && envelope.Loggers != nil {
		return envelope.Loggers, nil
	}
	var bare []models.LoggerInfo
	if err := json.Unmarshal(resp.Payload, &bare); err != nil {
		return nil, fmt.Errorf("failed to decode logger list payload: %w", err)
	}
	return bare, nil
}

// AnchorDate returns the latest data date across the catalog in YYYY-MM-DD
// form. Date defaults resolve against this, never wall-clock today, since
// uploaded data may lag. Returns "" when the catalog is empty or undated.
func AnchorDate(loggers []models.LoggerInfo) string {
	latest := ""
	for _, l := range loggers {
		if l.LatestData > latest {
			latest = l.LatestData
		}
	}
	if len(latest) >= 10 {
		return latest[:10]
	}
	return latest
}
