package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/solarlytics/analyst/internal/models"
	"github.com/solarlytics/analyst/internal/tools"
)

// maxRecoveryAttempts bounds the remediation loop. Exceeding it forces the
// plain-explanation path regardless of the detected failure type, so the
// subgraph always terminates.
const maxRecoveryAttempts = 3

// runRecovery is the shared remediation state machine, entered the same way
// from every workflow and from free-form tool execution: detect the first
// recoverable failure among accumulated tool results, classify it, and emit
// one of three remediation prompts.
func runRecovery(ctx context.Context, deps execDeps, st *models.ConversationState) *models.StatePatch {
	failed, found := detectFailure(st.Context().ToolResults)
	if !found {
		return &models.StatePatch{}
	}

	attempts := st.RecoveryAttempts + 1
	patch := &models.StatePatch{RecoveryAttempts: &attempts, Context: &models.FlowContext{}}

	limit := deps.recoveryLimit
	if limit <= 0 {
		limit = maxRecoveryAttempts
	}
	status := failed.Response.Status
	if attempts > limit {
		slog.Warn("flow.runRecovery: retry budget exhausted, forcing explanation path",
			"conversationID", st.ConversationID, "attempts", attempts, "detected", status)
		status = models.DataStatusError
	}

	slog.Info("flow.runRecovery: recoverable failure detected",
		"conversationID", st.ConversationID, "op", failed.Name, "status", status, "attempts", attempts)

	switch status {
	case models.DataStatusNoDataInWindow:
		recoverAlternateDate(deps, st, failed, patch)
	case models.DataStatusNoData:
		recoverAlternateDevice(ctx, deps, st, patch)
	case models.DataStatusError:
		text := genericErrorText
		if failed.Response.Message != "" {
			text = fmt.Sprintf("I couldn't finish that: %s. Feel free to try something else.", failed.Response.Message)
		}
		say(deps, models.StepRecovery, patch, text)
	}
	return patch
}

// detectFailure scans accumulated tool results in order for the first entry
// carrying a recoverable status.
func detectFailure(results []models.ToolResult) (models.ToolResult, bool) {
	for _, res := range results {
		if res.Response.Status.Recoverable() {
			return res, true
		}
	}
	return models.ToolResult{}, false
}

// recoverAlternateDate prompts for a different date inside the reported
// available range, offering "use latest available" as a one-click option.
func recoverAlternateDate(deps execDeps, st *models.ConversationState, failed models.ToolResult, patch *models.StatePatch) {
	req := SelectionRequest{
		Prompt: "There's no data for the window you asked about. Pick another date?",
		Field:  FieldDate,
		Hint:   "I'll rerun the analysis for the date you pick.",
	}
	if ar := failed.Response.AvailableRange; ar != nil {
		req.RangeStart = ar.Start
		req.RangeEnd = ar.End
		if ar.End != "" {
			req.Prompt = fmt.Sprintf("There's no data for that window; this device has data from %s to %s. Pick another date?", ar.Start, ar.End)
			req.Options = append(req.Options, SelectionOption{
				Value: ar.End,
				Label: fmt.Sprintf("Use latest available (%s)", ar.End),
			})
		}
	}
	queueRecoveryPrompt(deps, st, req, patch)
}

// recoverAlternateDevice fetches the device list and offers alternates,
// excluding the one that failed. With nothing left it falls back to upload
// guidance instead of an empty selector.
func recoverAlternateDevice(ctx context.Context, deps execDeps, st *models.ConversationState, patch *models.StatePatch) {
	resp, err := deps.exec.ListLoggers(ctx)
	var devices []models.LoggerInfo
	if err == nil {
		devices, err = tools.DecodeLoggerList(resp)
	}
	if err != nil {
		slog.Warn("flow.recoverAlternateDevice: device list unavailable", "error", err, "conversationID", st.ConversationID)
	}

	failedID := st.Context().SelectedLoggerID
	req := SelectionRequest{
		Prompt: "That device has no data at all. Want to try a different one?",
		Field:  FieldLoggerID,
		Hint:   "I'll rerun the analysis for the device you pick.",
	}
	for _, d := range devices {
		if d.LoggerID == failedID {
			continue
		}
		req.Options = append(req.Options, SelectionOption{
			Value: d.LoggerID,
			Label: fmt.Sprintf("%s (%s)", d.LoggerID, d.LoggerType),
		})
	}
	if len(req.Options) == 0 {
		say(deps, models.StepRecovery, patch, uploadGuidanceText)
		return
	}
	queueRecoveryPrompt(deps, st, req, patch)
}

// queueRecoveryPrompt pauses the workflow on a remediation selection request.
func queueRecoveryPrompt(deps execDeps, st *models.ConversationState, req SelectionRequest, patch *models.StatePatch) {
	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("flow.queueRecoveryPrompt: payload marshal failed", "error", err)
		payload = []byte(`{}`)
	}

	actionID := uuid.NewString()
	patch.AppendActions = append(patch.AppendActions, models.PendingUiAction{
		ID:      actionID,
		Kind:    models.UiActionSelect,
		Payload: payload,
	})

	attempts := st.RecoveryAttempts
	if patch.RecoveryAttempts != nil {
		attempts = *patch.RecoveryAttempts
	}
	meta := EncodeResumeMetadata(ResumeMetadata{
		Workflow:         st.ActiveWorkflow,
		WaitingField:     req.Field,
		RecoveryAttempts: attempts,
		Entities:         st.Context().WithoutToolResults(),
	})
	patch.AppendMessages = append(patch.AppendMessages, models.Message{
		Role:    models.RoleAssistant,
		Content: req.Prompt + "\n" + meta,
		Invocations: []models.Invocation{{
			ID:   actionID,
			Name: "request_selection",
			Kind: models.InvocationSelect,
			Args: payload,
		}},
	})
	deps.emit(models.TraceRecord{
		Kind:       models.TraceDelta,
		Step:       models.StepRecovery,
		Visibility: models.StepUserVisible,
		Delta:      req.Prompt,
	})
	deps.emit(models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       models.StepRecovery,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{{
			ID:   actionID,
			Name: "request_selection",
			Kind: models.InvocationSelect,
			Args: payload,
		}},
	})
	patch.Context.WaitingForInput = true
	patch.Context.WaitingField = req.Field

	step := 0
	patch.FlowStep = &step
}
