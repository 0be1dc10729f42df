package flow

import (
	"strings"

	"github.com/solarlytics/analyst/internal/models"
)

// Names of the arguments a workflow can wait on. The selection-response path
// maps the user's answer onto the flow context by these names.
const (
	FieldLoggerID  = "loggerId"
	FieldLoggerIDs = "loggerIds"
	FieldDate      = "date"
	FieldDateRange = "dateRange"
	FieldMetric    = "metric"
)

// defaultMetric is the comparison metric when neither the turn nor the
// session preference names one.
const defaultMetric = "power"

// workflowArgs is the static argument declaration per workflow, in resolution
// order: the resolver prompts for the first unsatisfied required argument.
var workflowArgs = map[models.Workflow][]models.ArgumentSpec{
	models.WorkflowFleetBriefing: nil, // fleet-scoped, no arguments

	models.WorkflowFinancialSummary: {
		{Name: FieldLoggerID, Required: true, Type: models.ArgSingleDevice},
		{Name: FieldDateRange, Type: models.ArgDateRange, Default: models.DefaultLastDaysFromAnchor, DefaultDays: 7},
	},

	models.WorkflowComparison: {
		{Name: FieldLoggerIDs, Required: true, Type: models.ArgMultiDevice, MinDevices: 2, MaxDevices: 5},
		{Name: FieldDate, Type: models.ArgSingleDate, Default: models.DefaultAnchorDate},
		{Name: FieldMetric, Type: models.ArgMetric, Default: models.DefaultSessionMetric},
	},

	models.WorkflowHealthCheck: {
		{Name: FieldLoggerID, Required: true, Type: models.ArgSingleDevice},
		{Name: FieldDateRange, Type: models.ArgDateRange, Default: models.DefaultLastDaysFromAnchor, DefaultDays: 7},
	},
}

// adHocArgs gives free-form turns an argument list when the message clearly
// implies one, so an implicit device need still raises a selection prompt.
func adHocArgs(message string) []models.ArgumentSpec {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "compare"):
		return []models.ArgumentSpec{
			{Name: FieldLoggerIDs, Required: true, Type: models.ArgMultiDevice, MinDevices: 2, MaxDevices: 5},
		}
	case strings.Contains(lower, "saving"), strings.Contains(lower, "money"), strings.Contains(lower, "cost"):
		return []models.ArgumentSpec{
			{Name: FieldLoggerID, Required: true, Type: models.ArgSingleDevice},
		}
	case strings.Contains(lower, "health"), strings.Contains(lower, "anomal"), strings.Contains(lower, "fault"):
		return []models.ArgumentSpec{
			{Name: FieldLoggerID, Required: true, Type: models.ArgSingleDevice},
		}
	}
	return nil
}
