package flow

import (
	"context"
	"encoding/json"

	"github.com/solarlytics/analyst/internal/models"
)

// forecastHorizonDays is the short-horizon forecast attached to every
// financial summary.
const forecastHorizonDays = 3

// runFinancialSummary executes the financial pipeline: savings over the
// resolved range, then a short-horizon forecast, then the report card.
func runFinancialSummary(ctx context.Context, deps execDeps, st *models.ConversationState) *models.StatePatch {
	fc := st.Context()
	patch := &models.StatePatch{Context: &models.FlowContext{}}

	rate := fc.ElectricityRate
	if rate == 0 {
		rate = deps.defaultRate
	}
	rng := models.DateRange{}
	if fc.SelectedRange.Complete() {
		rng = *fc.SelectedRange
	}

	savings, res := invokeTool(ctx, deps, models.StepFinancialSummary, models.OpFinancialSavings,
		map[string]any{"logger_id": fc.SelectedLoggerID, "start_date": rng.Start, "end_date": rng.End, "electricity_rate": rate},
		func(ctx context.Context) (models.ToolResponse, error) {
			return deps.exec.FinancialSavings(ctx, fc.SelectedLoggerID, rng, rate)
		})
	patch.Context.ToolResults = append(patch.Context.ToolResults, res)
	if !savings.Status.Succeeded() {
		return patch
	}

	forecast, res := invokeTool(ctx, deps, models.StepFinancialSummary, models.OpForecast,
		map[string]any{"logger_id": fc.SelectedLoggerID, "days": forecastHorizonDays},
		func(ctx context.Context) (models.ToolResponse, error) {
			return deps.exec.Forecast(ctx, fc.SelectedLoggerID, forecastHorizonDays)
		})
	patch.Context.ToolResults = append(patch.Context.ToolResults, res)

	data := map[string]json.RawMessage{"savings": savings.Payload}
	if forecast.Status.Succeeded() {
		data["forecast"] = forecast.Payload
	}

	say(deps, models.StepFinancialSummary, patch, "Here's your savings report.")
	queueRender(deps, models.StepFinancialSummary, patch, "financial_report_card", data, map[string]string{
		"loggerId": fc.SelectedLoggerID,
		"start":    rng.Start,
		"end":      rng.End,
	})
	return patch
}
