package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/solarlytics/analyst/internal/models"
)

// fleetOverviewStatus is the subset of the fleet overview payload the
// executor inspects to decide whether to run diagnostics.
type fleetOverviewStatus struct {
	Status struct {
		FleetHealth      string   `json:"fleetHealth"`
		OfflineLoggerIDs []string `json:"offlineLoggerIds"`
	} `json:"status"`
}

// runFleetBriefing executes the fleet-briefing pipeline: site-wide overview,
// then - when the fleet is in trouble - a targeted diagnostic call per
// affected device, issued concurrently and joined before rendering.
func runFleetBriefing(ctx context.Context, deps execDeps, st *models.ConversationState, devices []models.LoggerInfo) *models.StatePatch {
	patch := &models.StatePatch{Context: &models.FlowContext{}}

	overview, res := invokeTool(ctx, deps, models.StepFleetBriefing, models.OpFleetOverview, map[string]any{}, deps.exec.FleetOverview)
	patch.Context.ToolResults = append(patch.Context.ToolResults, res)
	if !overview.Status.Succeeded() {
		return patch
	}

	data := map[string]json.RawMessage{"overview": overview.Payload}
	annotations := map[string]string{}

	var parsed fleetOverviewStatus
	if err := json.Unmarshal(overview.Payload, &parsed); err == nil && parsed.Status.FleetHealth == "Critical" {
		affected := parsed.Status.OfflineLoggerIDs
		if len(affected) == 0 {
			for _, d := range devices {
				affected = append(affected, d.LoggerID)
			}
		}
		slog.Info("flow.runFleetBriefing: critical fleet health, running diagnostics",
			"conversationID", st.ConversationID, "affected", len(affected))

		diagnostics := runDiagnostics(ctx, deps, affected)
		for _, d := range diagnostics {
			patch.Context.ToolResults = append(patch.Context.ToolResults, d)
			if d.Response.Status.Succeeded() {
				data["diagnostics_"+d.Name] = d.Response.Payload
			}
		}
		annotations["fleetHealth"] = "Critical"
	}

	say(deps, models.StepFleetBriefing, patch, "Here's your fleet briefing.")
	queueRender(deps, models.StepFleetBriefing, patch, "fleet_overview_card", data, annotations)
	return patch
}

// runDiagnostics issues one diagnostic call per device concurrently and joins
// the results before any trace is emitted, so the event stream stays ordered.
func runDiagnostics(ctx context.Context, deps execDeps, loggerIDs []string) []models.ToolResult {
	responses := make([]models.ToolResponse, len(loggerIDs))
	var wg sync.WaitGroup
	for i, id := range loggerIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			resp, err := deps.exec.DiagnoseErrors(ctx, id, 7)
			if err != nil {
				resp = models.ToolResponse{Status: models.DataStatusError, Message: err.Error()}
			}
			responses[i] = resp
		}(i, id)
	}
	wg.Wait()

	results := make([]models.ToolResult, len(loggerIDs))
	for i, id := range loggerIDs {
		resp := responses[i]
		_, res := invokeTool(ctx, deps, models.StepFleetBriefing, models.OpDiagnoseErrors,
			map[string]any{"logger_id": id, "days": 7},
			func(context.Context) (models.ToolResponse, error) { return resp, nil })
		res.Name = models.OpDiagnoseErrors + ":" + id
		results[i] = res
	}
	return results
}
