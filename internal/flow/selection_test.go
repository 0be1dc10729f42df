package flow

import (
	"testing"

	"github.com/solarlytics/analyst/internal/models"
)

func waitingState(field string) *models.ConversationState {
	return &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "check device health"},
			{
				Role:    models.RoleAssistant,
				Content: "Which device should I look at?",
				Invocations: []models.Invocation{
					{ID: "inv-42", Name: "request_selection", Kind: models.InvocationSelect},
				},
			},
		},
		FlowContext: &models.FlowContext{WaitingForInput: true, WaitingField: field},
	}
}

func TestHandleSelectionBareValue(t *testing.T) {
	st := waitingState(FieldLoggerID)
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "925"}

	patch := handleSelection(st, cls, "925")
	patch.Apply(st)

	if st.Context().SelectedLoggerID != "925" {
		t.Errorf("expected logger 925, got %q", st.Context().SelectedLoggerID)
	}
	if st.Context().WaitingForInput {
		t.Error("waiting flag must clear")
	}
	if st.FlowStep != 1 {
		t.Errorf("expected step 1, got %d", st.FlowStep)
	}
}

func TestHandleSelectionAcknowledgesInvocation(t *testing.T) {
	st := waitingState(FieldLoggerID)
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "925"}

	patch := handleSelection(st, cls, "I selected: 925")

	var ack *models.Message
	for i := range patch.AppendMessages {
		if patch.AppendMessages[i].Role == models.RoleTool {
			ack = &patch.AppendMessages[i]
		}
	}
	if ack == nil {
		t.Fatal("expected a tool acknowledgment turn")
	}
	if ack.InvocationID != "inv-42" {
		t.Errorf("acknowledgment must reference the pending invocation, got %q", ack.InvocationID)
	}
}

func TestHandleSelectionPrefixStripped(t *testing.T) {
	st := waitingState(FieldLoggerID)
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true}

	patch := handleSelection(st, cls, "I selected: 925")
	patch.Apply(st)

	if st.Context().SelectedLoggerID != "925" {
		t.Errorf("expected prefix-stripped value 925, got %q", st.Context().SelectedLoggerID)
	}
}

func TestHandleSelectionMultiDevice(t *testing.T) {
	st := waitingState(FieldLoggerIDs)
	cls := &models.Classification{Flow: models.WorkflowComparison, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "925, 926, 930"}

	patch := handleSelection(st, cls, "925, 926, 930")
	patch.Apply(st)

	ids := st.Context().SelectedLoggerIDs
	if len(ids) != 3 || ids[0] != "925" || ids[2] != "930" {
		t.Errorf("expected three parsed ids, got %v", ids)
	}
}

func TestHandleSelectionDateRange(t *testing.T) {
	st := waitingState(FieldDateRange)
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "2026-08-01:2026-08-07"}

	patch := handleSelection(st, cls, "2026-08-01:2026-08-07")
	patch.Apply(st)

	rng := st.Context().SelectedRange
	if !rng.Complete() || rng.Start != "2026-08-01" || rng.End != "2026-08-07" {
		t.Errorf("expected parsed range, got %+v", rng)
	}
}

func TestHandleSelectionDateReanchorsRange(t *testing.T) {
	// Answering a date prompt must move the analysis window, not just the
	// single-date field: range-driven workflows would otherwise retry the
	// stale window that triggered the prompt.
	st := waitingState(FieldDate)
	st.FlowContext.SelectedRange = &models.DateRange{Start: "2026-08-14", End: "2026-08-20"}
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "2026-06-15"}

	patch := handleSelection(st, cls, "2026-06-15")
	patch.Apply(st)

	if st.Context().SelectedDate != "2026-06-15" {
		t.Errorf("expected selected date, got %q", st.Context().SelectedDate)
	}
	rng := st.Context().SelectedRange
	if !rng.Complete() || rng.End != "2026-06-15" || rng.Start != "2026-06-09" {
		t.Errorf("expected a seven-day window ending on the picked date, got %+v", rng)
	}
}

func TestHandleSelectionDateWithoutPriorRange(t *testing.T) {
	st := waitingState(FieldDate)
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "2026-06-15"}

	patch := handleSelection(st, cls, "2026-06-15")
	patch.Apply(st)

	rng := st.Context().SelectedRange
	if !rng.Complete() || rng.End != "2026-06-15" || rng.Start != "2026-06-09" {
		t.Errorf("expected the default window ending on the picked date, got %+v", rng)
	}
}

func TestHandleSelectionUnparseableDateKeepsRange(t *testing.T) {
	st := waitingState(FieldDate)
	st.FlowContext.SelectedRange = &models.DateRange{Start: "2026-08-14", End: "2026-08-20"}
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "whenever works"}

	patch := handleSelection(st, cls, "whenever works")

	if patch.Context.SelectedRange != nil {
		t.Errorf("non-date answer must not touch the range, got %+v", patch.Context.SelectedRange)
	}
}

func TestHandleSelectionNoPendingInvocation(t *testing.T) {
	st := waitingState(FieldLoggerID)
	st.Messages[1].Invocations = nil
	cls := &models.Classification{Flow: models.WorkflowHealthCheck, Confidence: 0.9, IsSelectionResponse: true, SelectedValue: "925"}

	patch := handleSelection(st, cls, "925")

	for _, m := range patch.AppendMessages {
		if m.Role == models.RoleTool {
			t.Fatal("no acknowledgment may be fabricated without a durable invocation id")
		}
	}
}
