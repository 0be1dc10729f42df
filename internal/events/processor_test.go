package events

import (
	"encoding/json"
	"testing"

	"github.com/solarlytics/analyst/internal/models"
)

func toolInvocation(id string) models.TraceRecord {
	return models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       models.StepHealthCheck,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{
			{ID: id, Name: models.OpInverterHealth, Kind: models.InvocationTool, Args: json.RawMessage(`{"logger_id":"925"}`)},
		},
	}
}

func toolCompletion(id string) models.TraceRecord {
	return models.TraceRecord{
		Kind:       models.TraceToolCompleted,
		Step:       models.StepHealthCheck,
		Visibility: models.StepUserVisible,
		ToolCallID: id,
		ToolName:   models.OpInverterHealth,
		Result:     json.RawMessage(`{"status":"ok"}`),
	}
}

func TestProcessTextDelta(t *testing.T) {
	p := NewProcessor()
	out := p.Process(models.TraceRecord{
		Kind:       models.TraceDelta,
		Step:       models.StepFreeForm,
		Visibility: models.StepUserVisible,
		Delta:      "Hello",
	})
	if len(out) != 1 || out[0].Type != models.EventText || out[0].Delta != "Hello" {
		t.Errorf("unexpected events: %v", out)
	}
}

func TestProcessInternalStepFiltered(t *testing.T) {
	p := NewProcessor()
	out := p.Process(models.TraceRecord{
		Kind:       models.TraceDelta,
		Step:       models.StepRouter,
		Visibility: models.StepInternal,
		Delta:      `{"flow":"comparison"}`,
	})
	if out != nil {
		t.Errorf("internal step output must never reach the stream, got %v", out)
	}
}

func TestProcessToolInvocationLifecycle(t *testing.T) {
	p := NewProcessor()

	out := p.Process(toolInvocation("inv-1"))
	if len(out) != 1 || out[0].Type != models.EventInvocationStarted || out[0].ID != "inv-1" {
		t.Fatalf("expected one started event, got %v", out)
	}

	out = p.Process(toolCompletion("inv-1"))
	if len(out) != 1 || out[0].Type != models.EventInvocationCompleted || out[0].ID != "inv-1" {
		t.Fatalf("expected one completed event, got %v", out)
	}
}

func TestProcessDuplicateInvocationDropped(t *testing.T) {
	p := NewProcessor()
	p.Process(toolInvocation("inv-1"))
	p.Process(toolCompletion("inv-1"))

	if out := p.Process(toolInvocation("inv-1")); out != nil {
		t.Errorf("duplicate invocation must be dropped, got %v", out)
	}
	if out := p.Process(toolCompletion("inv-1")); out != nil {
		t.Errorf("duplicate completion must be dropped, got %v", out)
	}
}

func TestProcessPassThroughEmitsBothImmediately(t *testing.T) {
	p := NewProcessor()
	payload := json.RawMessage(`{"component":"fleet_overview_card"}`)
	out := p.Process(models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       models.StepFleetBriefing,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{
			{ID: "inv-r", Name: "render_component", Kind: models.InvocationRender, Args: payload},
		},
	})

	if len(out) != 2 {
		t.Fatalf("pass-through must emit started and completed, got %d events", len(out))
	}
	if out[0].Type != models.EventInvocationStarted || out[1].Type != models.EventInvocationCompleted {
		t.Errorf("unexpected event order: %v, %v", out[0].Type, out[1].Type)
	}
	if string(out[1].Result) != string(payload) {
		t.Errorf("pass-through result must equal its args, got %s", out[1].Result)
	}
}

func TestPrimeHistorySuppressesReplay(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "check health"},
		{
			Role:    models.RoleAssistant,
			Content: "Which device?",
			Invocations: []models.Invocation{
				{ID: "inv-sel", Name: "request_selection", Kind: models.InvocationSelect},
			},
		},
		{Role: models.RoleUser, Content: "925"},
		{
			Role:    models.RoleAssistant,
			Content: "Here's the report.",
			Invocations: []models.Invocation{
				{ID: "inv-tool", Name: models.OpInverterHealth, Kind: models.InvocationTool},
			},
		},
		{Role: models.RoleTool, InvocationID: "inv-tool", Content: "ok"},
	}

	p := NewProcessor()
	p.PrimeHistory(history)

	if out := p.Process(toolInvocation("inv-tool")); out != nil {
		t.Errorf("historical invocation must not re-emit, got %v", out)
	}
	if out := p.Process(toolCompletion("inv-tool")); out != nil {
		t.Errorf("historical completion must not re-emit, got %v", out)
	}

	// Pass-through invocations from history are fully seen.
	out := p.Process(models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       models.StepResolver,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{
			{ID: "inv-sel", Name: "request_selection", Kind: models.InvocationSelect},
		},
	})
	if out != nil {
		t.Errorf("historical pass-through must not re-emit, got %v", out)
	}

	// A new invocation in the same conversation still flows.
	if out := p.Process(toolInvocation("inv-new")); len(out) != 1 {
		t.Errorf("new invocation must still emit, got %v", out)
	}
}

func TestProcessEmptyDeltaAndMissingIDs(t *testing.T) {
	p := NewProcessor()
	if out := p.Process(models.TraceRecord{Kind: models.TraceDelta, Visibility: models.StepUserVisible}); out != nil {
		t.Errorf("empty delta must emit nothing, got %v", out)
	}
	if out := p.Process(models.TraceRecord{Kind: models.TraceToolCompleted, Visibility: models.StepUserVisible}); out != nil {
		t.Errorf("completion without id must emit nothing, got %v", out)
	}
	out := p.Process(models.TraceRecord{
		Kind:        models.TraceStepCompleted,
		Visibility:  models.StepUserVisible,
		Invocations: []models.Invocation{{Name: "anonymous", Kind: models.InvocationTool}},
	})
	if out != nil {
		t.Errorf("invocation without id must emit nothing, got %v", out)
	}
}
