package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/solarlytics/analyst/internal/models"
	"github.com/solarlytics/analyst/internal/tools"
)

// traceFunc receives low-level execution trace records; the engine wires it
// to the event stream processor.
type traceFunc func(models.TraceRecord)

// execDeps bundles what every workflow executor needs.
type execDeps struct {
	exec        tools.Executor
	emit        traceFunc
	defaultRate float64
	// recoveryLimit overrides maxRecoveryAttempts when positive.
	recoveryLimit int
}

// invokeTool runs one analysis operation, emitting the invocation and its
// completion to the trace. Transport failures are folded into an error-status
// response so the recovery subgraph handles them uniformly; no exception
// crosses this boundary.
func invokeTool(ctx context.Context, deps execDeps, step models.StepID, name string, args map[string]any, call func(context.Context) (models.ToolResponse, error)) (models.ToolResponse, models.ToolResult) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte(`{}`)
	}
	inv := models.Invocation{
		ID:   uuid.NewString(),
		Name: name,
		Kind: models.InvocationTool,
		Args: argsJSON,
	}
	deps.emit(models.TraceRecord{
		Kind:        models.TraceStepCompleted,
		Step:        step,
		Visibility:  models.StepUserVisible,
		Invocations: []models.Invocation{inv},
	})

	resp, err := call(ctx)
	if err != nil {
		slog.Error("flow.invokeTool: operation failed", "op", name, "error", err)
		resp = models.ToolResponse{Status: models.DataStatusError, Message: err.Error()}
	}

	resultJSON, err := json.Marshal(resp)
	if err != nil {
		resultJSON = []byte(`{"status":"error"}`)
	}
	deps.emit(models.TraceRecord{
		Kind:       models.TraceToolCompleted,
		Step:       step,
		Visibility: models.StepUserVisible,
		ToolCallID: inv.ID,
		ToolName:   name,
		Result:     resultJSON,
	})

	return resp, models.ToolResult{Name: name, Response: resp}
}

// renderPayload is the argument object of a render instruction.
type renderPayload struct {
	Component   string                     `json:"component"`
	Data        map[string]json.RawMessage `json:"data,omitempty"`
	Annotations map[string]string          `json:"annotations,omitempty"`
}

// queueRender terminates a workflow: exactly one render instruction, queued
// as a pending UI action and emitted as a pass-through invocation.
func queueRender(deps execDeps, step models.StepID, patch *models.StatePatch, component string, data map[string]json.RawMessage, annotations map[string]string) {
	payload, err := json.Marshal(renderPayload{Component: component, Data: data, Annotations: annotations})
	if err != nil {
		slog.Error("flow.queueRender: payload marshal failed", "component", component, "error", err)
		payload = []byte(fmt.Sprintf(`{"component":%q}`, component))
	}

	actionID := uuid.NewString()
	patch.AppendActions = append(patch.AppendActions, models.PendingUiAction{
		ID:      actionID,
		Kind:    models.UiActionRender,
		Payload: payload,
	})
	patch.AppendMessages = append(patch.AppendMessages, models.Message{
		Role: models.RoleAssistant,
		Invocations: []models.Invocation{{
			ID:   actionID,
			Name: "render_component",
			Kind: models.InvocationRender,
			Args: payload,
		}},
	})
	deps.emit(models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       step,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{{
			ID:   actionID,
			Name: "render_component",
			Kind: models.InvocationRender,
			Args: payload,
		}},
	})
}

// say streams a short user-facing line from a workflow step and records it as
// an assistant turn.
func say(deps execDeps, step models.StepID, patch *models.StatePatch, text string) {
	deps.emit(models.TraceRecord{
		Kind:       models.TraceDelta,
		Step:       step,
		Visibility: models.StepUserVisible,
		Delta:      text,
	})
	patch.AppendMessages = append(patch.AppendMessages, models.Message{
		Role:    models.RoleAssistant,
		Content: text,
	})
}

// rangeDays returns the inclusive day count of a range, defaulting when the
// range is absent or malformed.
func rangeDays(rng *models.DateRange, fallback int) int {
	if !rng.Complete() {
		return fallback
	}
	start, err1 := parseDay(rng.Start)
	end, err2 := parseDay(rng.End)
	if err1 != nil || err2 != nil || end.Before(start) {
		return fallback
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func parseDay(s string) (t time.Time, err error) {
	return time.Parse("2006-01-02", s)
}

// lastRecoverable returns the status-bearing failure of the most recent tool
// result, if the workflow should enter recovery.
func lastRecoverable(results []models.ToolResult) (models.ToolResult, bool) {
	if len(results) == 0 {
		return models.ToolResult{}, false
	}
	last := results[len(results)-1]
	if last.Response.Status.Recoverable() {
		return last, true
	}
	return models.ToolResult{}, false
}
