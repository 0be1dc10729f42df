package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/models"
)

// greetingPhrases are matched exact-phrase, case-insensitive, whole-message
// anchored (trailing punctuation ignored). A match short-circuits routing
// with no classifier call; this is the only zero-latency path.
var greetingPhrases = []string{
	"hi", "hello", "hey", "hi there", "hello there", "hey there",
	"good morning", "good afternoon", "good evening", "howdy", "yo",
}

// isGreeting reports whether the whole message is one of the greeting phrases.
func isGreeting(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, ".!?, ")
	for _, phrase := range greetingPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

// Router decides, per incoming user turn, which workflow is active. The
// classifier call is internal bookkeeping: its output never reaches the
// event stream, and any classifier failure degrades to free-form routing
// rather than surfacing an error.
type Router struct {
	genaiClient   genai.ClientInterface
	historyWindow int
}

// NewRouter creates a router with the given classifier gateway and
// conversation-window size.
func NewRouter(genaiClient genai.ClientInterface, historyWindow int) *Router {
	return &Router{genaiClient: genaiClient, historyWindow: historyWindow}
}

// Route returns the routing patch for the latest user turn. It never returns
// an error: every failure path collapses into the free-form fallback.
func (r *Router) Route(ctx context.Context, st *models.ConversationState) *models.StatePatch {
	msg, ok := st.LastUserMessage()
	if !ok {
		slog.Debug("Router.Route: no user message, defaulting to free_form", "conversationID", st.ConversationID)
		return fallbackPatch()
	}

	if isGreeting(msg.Content) {
		slog.Debug("Router.Route: greeting short-circuit", "conversationID", st.ConversationID)
		wf := models.WorkflowGreeting
		step := 0
		attempts := 0
		return &models.StatePatch{
			ActiveWorkflow:   &wf,
			FlowStep:         &step,
			RecoveryAttempts: &attempts,
			Context:          st.Context().SessionOnly(),
			ReplaceContext:   true,
		}
	}

	cls := r.classify(ctx, st)
	if cls == nil {
		return fallbackPatch()
	}

	if cls.IsSelectionResponse && st.Context().WaitingForInput {
		slog.Debug("Router.Route: selection response detected",
			"conversationID", st.ConversationID, "waitingField", st.Context().WaitingField)
		return handleSelection(st, cls, msg.Content)
	}

	slog.Debug("Router.Route: classified",
		"conversationID", st.ConversationID, "flow", cls.Flow, "confidence", cls.Confidence)

	clean := st.Context().SessionOnly()
	mergeEntities(clean, cls.ExtractedParams)

	wf := cls.Flow
	step := 0
	attempts := 0
	patch := &models.StatePatch{
		ActiveWorkflow:   &wf,
		FlowStep:         &step,
		RecoveryAttempts: &attempts,
		Context:          clean,
		ReplaceContext:   true,
	}

	// Immediate feedback when the active workflow changes mid-conversation.
	if st.ActiveWorkflow != "" && st.ActiveWorkflow != wf {
		patch.AppendMessages = append(patch.AppendMessages, models.Message{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("Sure - switching to %s.", workflowLabel(wf)),
		})
	}
	return patch
}

// classify invokes the classifier gateway and parses its output defensively.
// Returns nil on any failure; the raw error is never propagated into the
// conversation.
func (r *Router) classify(ctx context.Context, st *models.ConversationState) *models.Classification {
	system := classificationSystemPrompt
	if fc := st.Context(); fc.WaitingForInput && fc.WaitingField != "" {
		system += "\n\n" + pendingArgumentBlock(st.ActiveWorkflow, fc.WaitingField)
	}

	user := conversationWindow(st.Messages, r.historyWindow)
	raw, err := r.genaiClient.GeneratePromptWithContext(ctx, system, user)
	if err != nil {
		slog.Warn("Router.classify: classifier call failed, falling back to free_form", "error", err, "conversationID", st.ConversationID)
		return nil
	}

	cls, err := ParseClassification(raw)
	if err != nil {
		slog.Warn("Router.classify: malformed classifier output, falling back to free_form", "error", err, "conversationID", st.ConversationID)
		return nil
	}
	return cls
}

// fallbackPatch is the single degradation target for every classifier
// failure: free-form routing at neutral confidence.
func fallbackPatch() *models.StatePatch {
	wf := models.WorkflowFreeForm
	step := 0
	return &models.StatePatch{ActiveWorkflow: &wf, FlowStep: &step}
}

// mergeEntities copies extracted entities into a flow context.
func mergeEntities(fc *models.FlowContext, params models.ExtractedParams) {
	if params.LoggerID != "" {
		fc.SelectedLoggerID = params.LoggerID
	}
	if len(params.LoggerIDs) > 0 {
		fc.SelectedLoggerIDs = params.LoggerIDs
	}
	if params.NamePattern != "" {
		fc.NamePattern = params.NamePattern
	}
	if params.Metric != "" {
		fc.Metric = params.Metric
	}
	if params.Date != "" {
		fc.SelectedDate = params.Date
	}
	if params.StartDate != "" && params.EndDate != "" {
		fc.SelectedRange = &models.DateRange{Start: params.StartDate, End: params.EndDate}
	}
	if params.AllDevices {
		fc.AllDevices = true
	}
}
