package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/solarlytics/analyst/internal/models"
)

func failedState(wf models.Workflow, results ...models.ToolResult) *models.ConversationState {
	return &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: wf,
		FlowStep:       1,
		FlowContext:    &models.FlowContext{ToolResults: results},
	}
}

func TestRecoveryNoDataInWindowOffersAlternateDate(t *testing.T) {
	exec := newStubExecutor()
	collector := &traceCollector{}
	st := failedState(models.WorkflowHealthCheck, models.ToolResult{
		Name: models.OpInverterHealth,
		Response: models.ToolResponse{
			Status:         models.DataStatusNoDataInWindow,
			AvailableRange: &models.AvailableRange{Start: "2026-05-01", End: "2026-08-10"},
		},
	})
	st.Context().SelectedLoggerID = "925"

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if st.RecoveryAttempts != 1 {
		t.Errorf("expected attempt counter 1, got %d", st.RecoveryAttempts)
	}
	if !st.Context().WaitingForInput || st.Context().WaitingField != FieldDate {
		t.Errorf("expected waiting on date, got waiting=%v field=%q",
			st.Context().WaitingForInput, st.Context().WaitingField)
	}
	if st.FlowStep != 0 {
		t.Errorf("recovery prompt must rewind the step, got %d", st.FlowStep)
	}
	if len(st.PendingUiActions) != 1 {
		t.Fatalf("expected one select action, got %d", len(st.PendingUiActions))
	}
	payload := string(st.PendingUiActions[0].Payload)
	if !strings.Contains(payload, "2026-08-10") {
		t.Errorf("prompt must offer the latest available date, got %s", payload)
	}

	// The pause metadata carries the incremented counter and no tool results,
	// so a resumed turn starts from the right budget and a clean slate.
	meta, ok := ParseResumeMetadata(st.Messages[len(st.Messages)-1].Content)
	if !ok {
		t.Fatal("recovery pause must embed resume metadata")
	}
	if meta.RecoveryAttempts != 1 {
		t.Errorf("metadata must carry the attempt counter, got %d", meta.RecoveryAttempts)
	}
	if meta.Entities != nil && len(meta.Entities.ToolResults) != 0 {
		t.Error("metadata entities must not carry tool results")
	}
}

func TestRecoveryNoDataOffersAlternateDevice(t *testing.T) {
	exec := newStubExecutor()
	exec.set(models.OpListLoggers, catalogResponse(
		models.LoggerInfo{LoggerID: "925", LoggerType: "GoodWe"},
		models.LoggerInfo{LoggerID: "926", LoggerType: "SMA"},
	))
	collector := &traceCollector{}
	st := failedState(models.WorkflowFinancialSummary, models.ToolResult{
		Name:     models.OpFinancialSavings,
		Response: models.ToolResponse{Status: models.DataStatusNoData},
	})
	st.Context().SelectedLoggerID = "925"

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if len(st.PendingUiActions) != 1 {
		t.Fatalf("expected one select action, got %d", len(st.PendingUiActions))
	}
	payload := string(st.PendingUiActions[0].Payload)
	if strings.Contains(payload, `"value":"925"`) {
		t.Error("failed device must be excluded from the alternatives")
	}
	if !strings.Contains(payload, `"value":"926"`) {
		t.Errorf("expected alternate device 926 in options, got %s", payload)
	}
}

func TestRecoveryNoDataWithNoAlternativesFallsBackToGuidance(t *testing.T) {
	exec := newStubExecutor()
	exec.set(models.OpListLoggers, catalogResponse(
		models.LoggerInfo{LoggerID: "925", LoggerType: "GoodWe"},
	))
	collector := &traceCollector{}
	st := failedState(models.WorkflowFinancialSummary, models.ToolResult{
		Name:     models.OpFinancialSavings,
		Response: models.ToolResponse{Status: models.DataStatusNoData},
	})
	st.Context().SelectedLoggerID = "925"

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if len(st.PendingUiActions) != 0 {
		t.Error("no selector may be presented when nothing else has data")
	}
	if len(st.Messages) == 0 || st.Messages[len(st.Messages)-1].Content != uploadGuidanceText {
		t.Error("expected upload guidance message")
	}
}

func TestRecoveryErrorExplains(t *testing.T) {
	exec := newStubExecutor()
	collector := &traceCollector{}
	st := failedState(models.WorkflowFleetBriefing, models.ToolResult{
		Name:     models.OpFleetOverview,
		Response: models.ToolResponse{Status: models.DataStatusError, Message: "upstream timeout"},
	})

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if st.Context().WaitingForInput {
		t.Error("error path must not pause the workflow")
	}
	last := st.Messages[len(st.Messages)-1]
	if !strings.Contains(last.Content, "upstream timeout") {
		t.Errorf("explanation should surface the failure message, got %q", last.Content)
	}
}

func TestRecoveryBudgetForcesExplanation(t *testing.T) {
	exec := newStubExecutor()
	collector := &traceCollector{}
	st := failedState(models.WorkflowHealthCheck, models.ToolResult{
		Name: models.OpInverterHealth,
		Response: models.ToolResponse{
			Status:         models.DataStatusNoDataInWindow,
			AvailableRange: &models.AvailableRange{Start: "2026-05-01", End: "2026-08-10"},
		},
	})
	st.RecoveryAttempts = maxRecoveryAttempts

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if st.RecoveryAttempts != maxRecoveryAttempts+1 {
		t.Errorf("expected attempt counter %d, got %d", maxRecoveryAttempts+1, st.RecoveryAttempts)
	}
	if len(st.PendingUiActions) != 0 {
		t.Error("exhausted budget must not prompt again")
	}
	if st.Context().WaitingForInput {
		t.Error("exhausted budget must not pause the workflow")
	}
	if len(st.Messages) == 0 {
		t.Fatal("expected an explanation message")
	}
}

func TestRecoveryNoFailureIsNoOp(t *testing.T) {
	exec := newStubExecutor()
	collector := &traceCollector{}
	st := failedState(models.WorkflowHealthCheck, models.ToolResult{
		Name:     models.OpInverterHealth,
		Response: models.ToolResponse{Status: models.DataStatusOK},
	})

	patch := runRecovery(context.Background(), testDeps(exec, collector), st)
	patch.Apply(st)

	if st.RecoveryAttempts != 0 || len(st.Messages) != 0 || len(st.PendingUiActions) != 0 {
		t.Error("recovery over successful results must be a no-op")
	}
}

func TestDetectFailurePicksFirstRecoverable(t *testing.T) {
	results := []models.ToolResult{
		{Name: "a", Response: models.ToolResponse{Status: models.DataStatusOK}},
		{Name: "b", Response: models.ToolResponse{Status: models.DataStatusNoData}},
		{Name: "c", Response: models.ToolResponse{Status: models.DataStatusError}},
	}
	failed, found := detectFailure(results)
	if !found || failed.Name != "b" {
		t.Errorf("expected first recoverable result b, got %v found=%v", failed.Name, found)
	}
}
