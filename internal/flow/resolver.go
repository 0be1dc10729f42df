package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/models"
	"github.com/solarlytics/analyst/internal/tools"
)

// SelectionOption is one choice offered in a selection request.
type SelectionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SelectionRequest is the payload of a selection-request invocation. Being a
// pass-through invocation, this payload is also its result.
type SelectionRequest struct {
	Prompt        string            `json:"prompt"`
	Field         string            `json:"field"`
	Options       []SelectionOption `json:"options,omitempty"`
	Candidates    []string          `json:"candidates,omitempty"`
	MinSelections int               `json:"minSelections,omitempty"`
	MaxSelections int               `json:"maxSelections,omitempty"`
	RangeStart    string            `json:"rangeStart,omitempty"`
	RangeEnd      string            `json:"rangeEnd,omitempty"`
	Hint          string            `json:"hint,omitempty"`
}

// Resolver determines whether the active workflow has all required arguments,
// applies defaults for optional ones, and pauses the workflow with a
// selection request when something required is missing. Pure except for one
// side effect: asking the classifier gateway to phrase the prompt, with
// static fallback text when that fails.
type Resolver struct {
	genaiClient      genai.ClientInterface
	defaultRangeDays int
}

// NewResolver creates an argument resolver.
func NewResolver(genaiClient genai.ClientInterface, defaultRangeDays int) *Resolver {
	if defaultRangeDays <= 0 {
		defaultRangeDays = 7
	}
	return &Resolver{genaiClient: genaiClient, defaultRangeDays: defaultRangeDays}
}

// Resolve returns the argument-resolution patch for the active workflow.
func (r *Resolver) Resolve(ctx context.Context, st *models.ConversationState, devices []models.LoggerInfo) *models.StatePatch {
	fc := st.Context()

	// Cardinality-mismatch recovery, not an error: multiple devices selected
	// for a single-device workflow redirects to the comparison workflow with
	// the selection carried over.
	if st.ActiveWorkflow.SingleDevice() && len(fc.SelectedLoggerIDs) > 1 {
		slog.Info("Resolver.Resolve: cardinality auto-switch to comparison",
			"conversationID", st.ConversationID, "from", st.ActiveWorkflow, "deviceCount", len(fc.SelectedLoggerIDs))
		wf := models.WorkflowComparison
		step := 0
		// Entering a workflow resets the remediation budget.
		attempts := 0
		return &models.StatePatch{
			ActiveWorkflow:   &wf,
			FlowStep:         &step,
			RecoveryAttempts: &attempts,
			AppendMessages: []models.Message{{
				Role:    models.RoleAssistant,
				Content: fmt.Sprintf("You picked %d devices, so I'll run a comparison instead.", len(fc.SelectedLoggerIDs)),
			}},
		}
	}

	// Idempotent re-entry guard: a prompt is already outstanding.
	if fc.WaitingForInput {
		slog.Debug("Resolver.Resolve: already waiting for input, no-op",
			"conversationID", st.ConversationID, "field", fc.WaitingField)
		return &models.StatePatch{}
	}

	specs := workflowArgs[st.ActiveWorkflow]
	if st.ActiveWorkflow == models.WorkflowFreeForm {
		if msg, ok := st.LastUserMessage(); ok {
			specs = adHocArgs(msg.Content)
		}
	}

	patch := &models.StatePatch{Context: &models.FlowContext{}}
	r.applyDefaults(patch.Context, specs, fc, devices)

	missing, found := firstMissingRequired(specs, fc)
	if !found {
		step := 1
		patch.FlowStep = &step
		slog.Debug("Resolver.Resolve: all required arguments satisfied",
			"conversationID", st.ConversationID, "workflow", st.ActiveWorkflow)
		return patch
	}

	if isDeviceArg(missing.Type) && len(devices) == 0 {
		// Never present an empty selector.
		patch.AppendMessages = append(patch.AppendMessages, models.Message{
			Role:    models.RoleAssistant,
			Content: uploadGuidanceText,
		})
		return patch
	}

	return r.requestSelection(ctx, st, missing, devices, patch)
}

// applyDefaults derives values for optional arguments that are not yet set.
// Date defaults anchor to the latest available data, not wall-clock today.
func (r *Resolver) applyDefaults(out *models.FlowContext, specs []models.ArgumentSpec, fc *models.FlowContext, devices []models.LoggerInfo) {
	anchor := tools.AnchorDate(devices)
	for _, spec := range specs {
		if spec.Required || spec.Satisfied(fc) {
			continue
		}
		switch spec.Default {
		case models.DefaultLastDaysFromAnchor:
			if anchor == "" {
				continue
			}
			days := spec.DefaultDays
			if days <= 0 {
				days = r.defaultRangeDays
			}
			end, err := time.Parse("2006-01-02", anchor)
			if err != nil {
				slog.Warn("Resolver.applyDefaults: bad anchor date", "anchor", anchor, "error", err)
				continue
			}
			start := end.AddDate(0, 0, -(days - 1))
			out.SelectedRange = &models.DateRange{
				Start: start.Format("2006-01-02"),
				End:   end.Format("2006-01-02"),
			}
		case models.DefaultAnchorDate:
			if anchor != "" {
				out.SelectedDate = anchor
			}
		case models.DefaultSessionMetric:
			if fc.PreferredMetric != "" {
				out.Metric = fc.PreferredMetric
			} else {
				out.Metric = defaultMetric
			}
		}
	}
}

// firstMissingRequired returns the first required argument that is still
// unsatisfied, in declaration order.
func firstMissingRequired(specs []models.ArgumentSpec, fc *models.FlowContext) (models.ArgumentSpec, bool) {
	for _, spec := range specs {
		if spec.Required && !spec.Satisfied(fc) {
			return spec, true
		}
	}
	return models.ArgumentSpec{}, false
}

func isDeviceArg(t models.ArgType) bool {
	return t == models.ArgSingleDevice || t == models.ArgMultiDevice
}

// requestSelection synthesizes the selection-request invocation, the pause
// message with resume metadata, and the waiting flags.
func (r *Resolver) requestSelection(ctx context.Context, st *models.ConversationState, spec models.ArgumentSpec, devices []models.LoggerInfo, patch *models.StatePatch) *models.StatePatch {
	fc := st.Context()

	candidates := matchDevices(fc.NamePattern, devices)
	prompt := r.phrasePrompt(ctx, st.ActiveWorkflow, spec, fc.NamePattern, candidates)

	req := SelectionRequest{
		Prompt: prompt,
		Field:  spec.Name,
		Hint:   fmt.Sprintf("Once you pick, I'll continue the %s.", workflowLabel(st.ActiveWorkflow)),
	}
	switch spec.Type {
	case models.ArgSingleDevice, models.ArgMultiDevice:
		for _, d := range devices {
			req.Options = append(req.Options, SelectionOption{
				Value: d.LoggerID,
				Label: fmt.Sprintf("%s (%s)", d.LoggerID, d.LoggerType),
			})
		}
		for _, c := range candidates {
			req.Candidates = append(req.Candidates, c.LoggerID)
		}
		if spec.Type == models.ArgMultiDevice {
			req.MinSelections = spec.MinDevices
			req.MaxSelections = spec.MaxDevices
			if req.MinSelections == 0 {
				req.MinSelections = 2
			}
		}
	case models.ArgSingleDate, models.ArgDateRange:
		req.RangeStart = earliestDate(devices)
		req.RangeEnd = tools.AnchorDate(devices)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		slog.Error("Resolver.requestSelection: payload marshal failed", "error", err)
		payload = []byte(`{}`)
	}

	actionID := uuid.NewString()
	patch.AppendActions = append(patch.AppendActions, models.PendingUiAction{
		ID:      actionID,
		Kind:    models.UiActionSelect,
		Payload: payload,
	})

	meta := EncodeResumeMetadata(ResumeMetadata{
		Workflow:         st.ActiveWorkflow,
		WaitingField:     spec.Name,
		RecoveryAttempts: st.RecoveryAttempts,
		Entities:         fc.WithoutToolResults(),
	})
	patch.AppendMessages = append(patch.AppendMessages, models.Message{
		Role:    models.RoleAssistant,
		Content: prompt + "\n" + meta,
		Invocations: []models.Invocation{{
			ID:   actionID,
			Name: "request_selection",
			Kind: models.InvocationSelect,
			Args: payload,
		}},
	})
	patch.Context.WaitingForInput = true
	patch.Context.WaitingField = spec.Name

	slog.Info("Resolver.requestSelection: workflow paused",
		"conversationID", st.ConversationID, "workflow", st.ActiveWorkflow, "field", spec.Name, "candidates", len(candidates))
	return patch
}

// phrasePrompt asks the gateway for a context-aware prompt, mentioning the
// matched pattern when one was found. Static text on failure.
func (r *Resolver) phrasePrompt(ctx context.Context, wf models.Workflow, spec models.ArgumentSpec, pattern string, candidates []models.LoggerInfo) string {
	fallback := staticSelectionPrompt(spec.Name, pattern)
	if r.genaiClient == nil {
		return fallback
	}

	var names []string
	for _, c := range candidates {
		names = append(names, c.LoggerID)
	}
	user := fmt.Sprintf("Workflow: %s. Missing argument: %s (%s).", workflowLabel(wf), spec.Name, spec.Type)
	if pattern != "" {
		user += fmt.Sprintf(" The user mentioned %q, matching: %s.", pattern, strings.Join(names, ", "))
	}

	prompt, err := r.genaiClient.GeneratePromptWithContext(ctx, selectionPromptSystem, user)
	if err != nil || strings.TrimSpace(prompt) == "" {
		slog.Debug("Resolver.phrasePrompt: falling back to static prompt", "error", err)
		return fallback
	}
	return strings.TrimSpace(prompt)
}

// matchDevices resolves a name/type pattern into candidate devices by
// case-insensitive substring match on id and type.
func matchDevices(pattern string, devices []models.LoggerInfo) []models.LoggerInfo {
	if pattern == "" {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(pattern))
	needle = strings.TrimPrefix(needle, "the ")
	var out []models.LoggerInfo
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.LoggerID), needle) ||
			strings.Contains(strings.ToLower(d.LoggerType), needle) {
			out = append(out, d)
		}
	}
	return out
}

// earliestDate returns the earliest data date across the catalog.
func earliestDate(devices []models.LoggerInfo) string {
	earliest := ""
	for _, d := range devices {
		if d.EarliestData == "" {
			continue
		}
		if earliest == "" || d.EarliestData < earliest {
			earliest = d.EarliestData
		}
	}
	if len(earliest) >= 10 {
		return earliest[:10]
	}
	return earliest
}
