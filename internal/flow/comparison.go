package flow

import (
	"context"
	"encoding/json"

	"github.com/solarlytics/analyst/internal/models"
)

// runComparison executes the multi-device comparison pipeline and annotates
// the chart with the best and worst performer when the payload allows it.
func runComparison(ctx context.Context, deps execDeps, st *models.ConversationState) *models.StatePatch {
	fc := st.Context()
	patch := &models.StatePatch{Context: &models.FlowContext{}}

	// The resolver defaults this from the session preference; the fallback
	// chain keeps the executor safe when invoked with a bare context.
	metric := fc.Metric
	if metric == "" {
		metric = fc.PreferredMetric
	}
	if metric == "" {
		metric = defaultMetric
	}

	resp, res := invokeTool(ctx, deps, models.StepComparison, models.OpCompareLoggers,
		map[string]any{"logger_ids": fc.SelectedLoggerIDs, "metric": metric, "date": fc.SelectedDate},
		func(ctx context.Context) (models.ToolResponse, error) {
			return deps.exec.CompareLoggers(ctx, fc.SelectedLoggerIDs, metric, fc.SelectedDate)
		})
	patch.Context.ToolResults = append(patch.Context.ToolResults, res)
	if !resp.Status.Succeeded() {
		return patch
	}

	annotations := map[string]string{"metric": metric}
	if best, worst, ok := bestAndWorst(resp.Payload, fc.SelectedLoggerIDs); ok {
		annotations["best"] = best
		annotations["worst"] = worst
	}

	say(deps, models.StepComparison, patch, "Here's how your devices compare.")
	queueRender(deps, models.StepComparison, patch, "comparison_chart",
		map[string]json.RawMessage{"comparison": resp.Payload}, annotations)
	return patch
}

// bestAndWorst sums each device's values in the comparison payload and
// returns the top and bottom performers. The payload is opaque by contract,
// so this is best-effort: any shape mismatch simply skips the annotation.
func bestAndWorst(payload json.RawMessage, loggerIDs []string) (string, string, bool) {
	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil || len(parsed.Data) == 0 {
		return "", "", false
	}

	totals := make(map[string]float64, len(loggerIDs))
	for _, point := range parsed.Data {
		for _, id := range loggerIDs {
			if v, ok := point[id].(float64); ok {
				totals[id] += v
			}
		}
	}
	if len(totals) < 2 {
		return "", "", false
	}

	best, worst := "", ""
	for id, total := range totals {
		if best == "" || total > totals[best] {
			best = id
		}
		if worst == "" || total < totals[worst] {
			worst = id
		}
	}
	return best, worst, true
}
