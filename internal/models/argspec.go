package models

// ArgType is the semantic type of a workflow argument.
type ArgType string

const (
	// ArgSingleDevice requires exactly one device id.
	ArgSingleDevice ArgType = "single_device"
	// ArgMultiDevice requires between MinDevices and MaxDevices device ids.
	ArgMultiDevice ArgType = "multi_device"
	// ArgSingleDate requires one YYYY-MM-DD date.
	ArgSingleDate ArgType = "single_date"
	// ArgDateRange requires both bounds of a date window.
	ArgDateRange ArgType = "date_range"
	// ArgMetric requires a metric name (power, energy, yield).
	ArgMetric ArgType = "metric"
)

// DefaultStrategy names how an optional argument derives its value when the
// user did not supply one.
type DefaultStrategy string

const (
	// DefaultNone means the argument has no default.
	DefaultNone DefaultStrategy = ""
	// DefaultLastDaysFromAnchor resolves to the N days ending at the latest
	// available data timestamp, not wall-clock today, since uploads may lag.
	DefaultLastDaysFromAnchor DefaultStrategy = "last_days_from_anchor"
	// DefaultAnchorDate resolves to the latest available data date.
	DefaultAnchorDate DefaultStrategy = "anchor_date"
	// DefaultSessionMetric resolves to the session's preferred metric, falling
	// back to power.
	DefaultSessionMetric DefaultStrategy = "session_metric"
)

// ArgumentSpec is the static declaration of one workflow argument.
type ArgumentSpec struct {
	Name       string
	Required   bool
	Type       ArgType
	MinDevices int
	MaxDevices int
	Default    DefaultStrategy
	// DefaultDays parameterizes DefaultLastDaysFromAnchor.
	DefaultDays int
}

// Satisfied reports whether the context already carries a value for this argument.
func (a ArgumentSpec) Satisfied(ctx *FlowContext) bool {
	if ctx == nil {
		return false
	}
	switch a.Type {
	case ArgSingleDevice:
		return ctx.SelectedLoggerID != "" || ctx.AllDevices
	case ArgMultiDevice:
		min := a.MinDevices
		if min == 0 {
			min = 2
		}
		return len(ctx.SelectedLoggerIDs) >= min
	case ArgSingleDate:
		return ctx.SelectedDate != ""
	case ArgDateRange:
		return ctx.SelectedRange.Complete()
	case ArgMetric:
		return ctx.Metric != ""
	}
	return false
}
