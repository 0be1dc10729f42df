// Package models defines the tool-execution boundary types for analysis operations.
package models

import "encoding/json"

// DataStatus is the tagged status of an analysis-operation result.
// Single source of truth for status values to prevent spelling bugs.
type DataStatus string

const (
	// DataStatusOK means data was retrieved successfully.
	DataStatusOK DataStatus = "ok"
	// DataStatusSuccess is an accepted wire alias for ok.
	DataStatusSuccess DataStatus = "success"
	// DataStatusNoData means the device has no data at all.
	DataStatusNoData DataStatus = "no_data"
	// DataStatusNoDataInWindow means data exists, but not for the requested window.
	DataStatusNoDataInWindow DataStatus = "no_data_in_window"
	// DataStatusError is a generic operation failure.
	DataStatusError DataStatus = "error"
)

// Succeeded reports whether the status carries usable data.
func (s DataStatus) Succeeded() bool {
	return s == DataStatusOK || s == DataStatusSuccess
}

// Recoverable reports whether the status should enter the recovery subgraph.
func (s DataStatus) Recoverable() bool {
	return s == DataStatusNoData || s == DataStatusNoDataInWindow || s == DataStatusError
}

// AvailableRange reports the data window a device actually has, attached to
// no_data_in_window responses so recovery can offer an alternate date.
// For no_data both bounds are empty.
type AvailableRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// ToolResponse is the tagged result returned across the tool-execution
// boundary. The payload is opaque to the orchestrator: string payloads are
// opportunistically JSON-parsed by the client and left as strings on failure.
type ToolResponse struct {
	Status         DataStatus      `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Message        string          `json:"message,omitempty"`
	AvailableRange *AvailableRange `json:"availableRange,omitempty"`
}

// LoggerInfo describes one device in the discovery catalog, including the data
// window it covers. LatestData across the catalog is the anchor date used for
// date-range defaults in place of wall-clock today.
type LoggerInfo struct {
	LoggerID     string `json:"loggerId"`
	LoggerType   string `json:"loggerType"`
	EarliestData string `json:"earliestData,omitempty"`
	LatestData   string `json:"latestData,omitempty"`
	RecordCount  int    `json:"recordCount"`
}

// Analysis operation names exposed by the tool-execution service.
const (
	OpListLoggers       = "list_loggers"
	OpFleetOverview     = "get_fleet_overview"
	OpInverterHealth    = "analyze_inverter_health"
	OpPowerCurve        = "get_power_curve"
	OpCompareLoggers    = "compare_loggers"
	OpFinancialSavings  = "calculate_financial_savings"
	OpForecast          = "forecast_production"
	OpDiagnoseErrors    = "diagnose_error_codes"
	OpPerformanceRatio  = "get_performance_ratio"
)
