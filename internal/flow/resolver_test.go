package flow

import (
	"context"
	"testing"

	"github.com/solarlytics/analyst/internal/models"
)

func testCatalog() []models.LoggerInfo {
	return []models.LoggerInfo{
		{LoggerID: "925", LoggerType: "GoodWe", EarliestData: "2026-05-01", LatestData: "2026-08-10", RecordCount: 4200},
		{LoggerID: "926", LoggerType: "SMA", EarliestData: "2026-06-01", LatestData: "2026-08-12", RecordCount: 3100},
		{LoggerID: "930", LoggerType: "Fronius", EarliestData: "2026-04-15", LatestData: "2026-08-11", RecordCount: 5100},
	}
}

func newTestResolver() *Resolver {
	// nil gateway forces the static prompt path.
	return NewResolver(nil, 7)
}

func TestResolveCardinalityAutoSwitch(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID:   "c1",
		ActiveWorkflow:   models.WorkflowHealthCheck,
		RecoveryAttempts: 2,
		FlowContext:      &models.FlowContext{SelectedLoggerIDs: []string{"925", "926"}},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.ActiveWorkflow != models.WorkflowComparison {
		t.Fatalf("expected auto-switch to comparison, got %s", st.ActiveWorkflow)
	}
	if st.FlowStep != 0 {
		t.Errorf("auto-switch must restart resolution, got step %d", st.FlowStep)
	}
	if st.RecoveryAttempts != 0 {
		t.Errorf("entering a workflow must reset the remediation budget, got %d", st.RecoveryAttempts)
	}
	ids := st.Context().SelectedLoggerIDs
	if len(ids) != 2 {
		t.Errorf("device selection must carry over, got %v", ids)
	}
	if len(patch.AppendMessages) == 0 {
		t.Error("auto-switch must be announced to the user")
	}
}

func TestResolveMissingRequiredPausesWorkflow(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.FlowStep != 0 {
		t.Errorf("missing required argument must hold the step at 0, got %d", st.FlowStep)
	}
	if !st.Context().WaitingForInput || st.Context().WaitingField != FieldLoggerID {
		t.Errorf("expected waiting on %s, got waiting=%v field=%q",
			FieldLoggerID, st.Context().WaitingForInput, st.Context().WaitingField)
	}
	if len(st.PendingUiActions) != 1 {
		t.Fatalf("expected exactly one pending action, got %d", len(st.PendingUiActions))
	}
	if st.PendingUiActions[0].Kind != models.UiActionSelect {
		t.Errorf("expected a select action, got %s", st.PendingUiActions[0].Kind)
	}

	// The pause message carries resume metadata.
	last := st.Messages[len(st.Messages)-1]
	meta, ok := ParseResumeMetadata(last.Content)
	if !ok {
		t.Fatal("pause message must embed resume metadata")
	}
	if meta.Workflow != models.WorkflowHealthCheck || meta.WaitingField != FieldLoggerID {
		t.Errorf("unexpected resume metadata: %+v", meta)
	}
}

func TestResolveSatisfiedAppliesAnchoredDefaults(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{SelectedLoggerID: "925"},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.FlowStep != 1 {
		t.Fatalf("expected advance to execution step, got %d", st.FlowStep)
	}
	rng := st.Context().SelectedRange
	if !rng.Complete() {
		t.Fatal("expected a defaulted date range")
	}
	// Anchor is the max latestData across the catalog (926: 2026-08-12), and
	// the default window is 7 days inclusive.
	if rng.End != "2026-08-12" {
		t.Errorf("range must anchor to latest available data, got end %q", rng.End)
	}
	if rng.Start != "2026-08-06" {
		t.Errorf("expected 7-day window start 2026-08-06, got %q", rng.Start)
	}
}

func TestResolveComparisonDateDefaultsToAnchor(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowComparison,
		FlowContext:    &models.FlowContext{SelectedLoggerIDs: []string{"925", "926"}},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.FlowStep != 1 {
		t.Fatalf("expected advance to execution step, got %d", st.FlowStep)
	}
	if st.Context().SelectedDate != "2026-08-12" {
		t.Errorf("comparison date must default to the anchor, got %q", st.Context().SelectedDate)
	}
}

func TestResolveComparisonMetricDefaultsFromSession(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowComparison,
		FlowContext: &models.FlowContext{
			SelectedLoggerIDs: []string{"925", "926"},
			PreferredMetric:   "energy",
		},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.Context().Metric != "energy" {
		t.Errorf("metric must default to the session preference, got %q", st.Context().Metric)
	}
}

func TestResolveComparisonMetricFallsBackToPower(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowComparison,
		FlowContext:    &models.FlowContext{SelectedLoggerIDs: []string{"925", "926"}},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.Context().Metric != defaultMetric {
		t.Errorf("metric must fall back to %q, got %q", defaultMetric, st.Context().Metric)
	}
}

func TestResolveFleetBriefingNeedsNothing(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowFleetBriefing,
		FlowContext:    &models.FlowContext{},
	}

	patch := resolver.Resolve(context.Background(), st, nil)
	patch.Apply(st)

	if st.FlowStep != 1 {
		t.Errorf("fleet briefing has no arguments, expected step 1, got %d", st.FlowStep)
	}
	if st.Context().WaitingForInput {
		t.Error("fleet briefing must never wait for input")
	}
}

func TestResolveZeroDevicesGivesUploadGuidance(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{},
	}

	patch := resolver.Resolve(context.Background(), st, nil)
	patch.Apply(st)

	if len(st.PendingUiActions) != 0 {
		t.Errorf("no selector may be presented with zero devices, got %d actions", len(st.PendingUiActions))
	}
	if st.Context().WaitingForInput {
		t.Error("zero-device path must not set the waiting flag")
	}
	if len(st.Messages) == 0 || st.Messages[len(st.Messages)-1].Content != uploadGuidanceText {
		t.Error("expected upload guidance message")
	}
}

func TestResolveIdempotentWhileWaiting(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{WaitingForInput: true, WaitingField: FieldLoggerID},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if len(st.PendingUiActions) != 0 || len(st.Messages) != 0 {
		t.Error("re-entry while waiting must be a no-op")
	}
}

func TestResolveNamePatternNarrowsCandidates(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{NamePattern: "the GoodWe"},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())

	if len(patch.AppendActions) != 1 {
		t.Fatalf("expected one select action, got %d", len(patch.AppendActions))
	}
	candidates := matchDevices("the GoodWe", testCatalog())
	if len(candidates) != 1 || candidates[0].LoggerID != "925" {
		t.Errorf("expected pattern to match logger 925, got %v", candidates)
	}
}

func TestResolveAllDevicesSatisfiesSingleDevice(t *testing.T) {
	resolver := newTestResolver()
	st := &models.ConversationState{
		ConversationID: "c1",
		ActiveWorkflow: models.WorkflowHealthCheck,
		FlowContext:    &models.FlowContext{AllDevices: true},
	}

	patch := resolver.Resolve(context.Background(), st, testCatalog())
	patch.Apply(st)

	if st.FlowStep != 1 {
		t.Errorf("all-devices request must satisfy the device argument, got step %d", st.FlowStep)
	}
}

func TestAdHocArgs(t *testing.T) {
	if specs := adHocArgs("compare my inverters"); len(specs) != 1 || specs[0].Name != FieldLoggerIDs {
		t.Errorf("compare message should demand loggerIds, got %v", specs)
	}
	if specs := adHocArgs("how much money did I save"); len(specs) != 1 || specs[0].Name != FieldLoggerID {
		t.Errorf("savings message should demand loggerId, got %v", specs)
	}
	if specs := adHocArgs("what can you do"); specs != nil {
		t.Errorf("generic message should demand nothing, got %v", specs)
	}
}
