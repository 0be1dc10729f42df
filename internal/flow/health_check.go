package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/solarlytics/analyst/internal/models"
)

// runHealthCheck executes the anomaly-analysis pipeline over the resolved
// range, per-device when the user asked for all devices.
func runHealthCheck(ctx context.Context, deps execDeps, st *models.ConversationState, devices []models.LoggerInfo) *models.StatePatch {
	fc := st.Context()
	patch := &models.StatePatch{Context: &models.FlowContext{}}
	days := rangeDays(fc.SelectedRange, 7)

	if fc.AllDevices {
		return runFleetHealthCheck(ctx, deps, patch, devices, days)
	}

	resp, res := invokeTool(ctx, deps, models.StepHealthCheck, models.OpInverterHealth,
		map[string]any{"logger_id": fc.SelectedLoggerID, "days": days},
		func(ctx context.Context) (models.ToolResponse, error) {
			return deps.exec.InverterHealth(ctx, fc.SelectedLoggerID, days)
		})
	patch.Context.ToolResults = append(patch.Context.ToolResults, res)
	if !resp.Status.Succeeded() {
		return patch
	}

	say(deps, models.StepHealthCheck, patch, "Here's the health report.")
	queueRender(deps, models.StepHealthCheck, patch, "health_report_card",
		map[string]json.RawMessage{"report": resp.Payload},
		map[string]string{"loggerId": fc.SelectedLoggerID, "days": strconv.Itoa(days)})
	return patch
}

// runFleetHealthCheck analyzes every device concurrently, joining results
// before emitting any trace.
func runFleetHealthCheck(ctx context.Context, deps execDeps, patch *models.StatePatch, devices []models.LoggerInfo, days int) *models.StatePatch {
	responses := make([]models.ToolResponse, len(devices))
	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			resp, err := deps.exec.InverterHealth(ctx, id, days)
			if err != nil {
				resp = models.ToolResponse{Status: models.DataStatusError, Message: err.Error()}
			}
			responses[i] = resp
		}(i, d.LoggerID)
	}
	wg.Wait()

	data := map[string]json.RawMessage{}
	for i, d := range devices {
		resp := responses[i]
		_, res := invokeTool(ctx, deps, models.StepHealthCheck, models.OpInverterHealth,
			map[string]any{"logger_id": d.LoggerID, "days": days},
			func(context.Context) (models.ToolResponse, error) { return resp, nil })
		res.Name = models.OpInverterHealth + ":" + d.LoggerID
		patch.Context.ToolResults = append(patch.Context.ToolResults, res)
		if resp.Status.Succeeded() {
			data["report_"+d.LoggerID] = resp.Payload
		}
	}
	if len(data) == 0 {
		return patch
	}

	say(deps, models.StepHealthCheck, patch, "Here's the health report for all devices.")
	queueRender(deps, models.StepHealthCheck, patch, "health_report_card", data,
		map[string]string{"scope": "all", "days": strconv.Itoa(days)})
	return patch
}
