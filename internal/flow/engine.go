package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/solarlytics/analyst/internal/config"
	"github.com/solarlytics/analyst/internal/events"
	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/models"
	"github.com/solarlytics/analyst/internal/store"
	"github.com/solarlytics/analyst/internal/tools"
)

// Engine runs one conversation turn end to end: restore the paused session if
// any, route the turn, resolve arguments, execute the active workflow, and
// enter recovery when an operation reports a recoverable failure. Nodes return
// patches; the engine owns the merge and the transition table.
type Engine struct {
	genaiClient      genai.ClientInterface
	exec             tools.Executor
	sessions         store.Store
	router           *Router
	resolver         *Resolver
	defaultRate      float64
	historyWindow    int
	recoveryLimit    int
	workflowsEnabled bool
}

// NewEngine wires an engine from configuration and its collaborators.
func NewEngine(cfg config.Settings, genaiClient genai.ClientInterface, exec tools.Executor, sessions store.Store) *Engine {
	return &Engine{
		genaiClient:      genaiClient,
		exec:             exec,
		sessions:         sessions,
		router:           NewRouter(genaiClient, cfg.ChatHistoryWindow),
		resolver:         NewResolver(genaiClient, cfg.DefaultRangeDays),
		defaultRate:      cfg.DefaultElectricityRate,
		historyWindow:    cfg.ChatHistoryWindow,
		recoveryLimit:    cfg.MaxRecoveryAttempts,
		workflowsEnabled: cfg.WorkflowsEnabled,
	}
}

// ProcessTurn executes one turn over the client-provided conversation history.
// Client events are delivered through emit in execution order; the returned
// state reflects every applied patch, including queued UI actions. A turn
// whose latest user message is blank is dropped without side effects.
func (e *Engine) ProcessTurn(ctx context.Context, conversationID string, history []models.Message, emit func(models.StreamEvent)) (*models.ConversationState, error) {
	st := &models.ConversationState{
		ConversationID: conversationID,
		Messages:       history,
	}
	if _, ok := st.LastUserMessage(); !ok {
		slog.Debug("Engine.ProcessTurn: no non-blank user message, dropping turn", "conversationID", conversationID)
		return st, nil
	}

	e.restoreSession(st)

	proc := events.NewProcessor()
	proc.PrimeHistory(history)
	emitTrace := func(rec models.TraceRecord) {
		for _, ev := range proc.Process(rec) {
			emit(ev)
		}
	}
	deps := execDeps{exec: e.exec, emit: emitTrace, defaultRate: e.defaultRate, recoveryLimit: e.recoveryLimit}

	routePatch := e.router.Route(ctx, st)
	emitPatchTrace(deps, models.StepRouter, routePatch)
	routePatch.Apply(st)
	if !e.workflowsEnabled && st.ActiveWorkflow != models.WorkflowGreeting {
		st.ActiveWorkflow = models.WorkflowFreeForm
	}
	slog.Info("Engine.ProcessTurn: routed",
		"conversationID", conversationID, "workflow", st.ActiveWorkflow, "flowStep", st.FlowStep)

	switch st.ActiveWorkflow {
	case models.WorkflowGreeting:
		patch := &models.StatePatch{}
		say(deps, models.StepGreeting, patch, greetingText)
		patch.Apply(st)

	case models.WorkflowFreeForm:
		// The catalog RPC is only worth paying when the ad-hoc argument scan
		// found something device-shaped to resolve.
		var devices []models.LoggerInfo
		if msg, ok := st.LastUserMessage(); ok && len(adHocArgs(msg.Content)) > 0 {
			devices = e.fetchCatalog(ctx)
		}
		e.runWithResolution(ctx, deps, st, devices, func() *models.StatePatch {
			return runFreeForm(ctx, deps, e.genaiClient, st, e.historyWindow)
		})

	case models.WorkflowFleetBriefing, models.WorkflowFinancialSummary,
		models.WorkflowComparison, models.WorkflowHealthCheck:
		devices := e.fetchCatalog(ctx)
		e.runWithResolution(ctx, deps, st, devices, func() *models.StatePatch {
			return e.runWorkflow(ctx, deps, st, devices)
		})

	default:
		slog.Warn("Engine.ProcessTurn: unroutable workflow, answering free-form",
			"conversationID", conversationID, "workflow", st.ActiveWorkflow)
		st.ActiveWorkflow = models.WorkflowFreeForm
		runFreeForm(ctx, deps, e.genaiClient, st, e.historyWindow).Apply(st)
	}

	if err := e.persistSession(st); err != nil {
		slog.Error("Engine.ProcessTurn: session persistence failed", "error", err, "conversationID", conversationID)
	}
	return st, nil
}

// runWithResolution resolves arguments, then runs the executor when the
// workflow advanced to its execution step, entering recovery on a recoverable
// failure. Resolution may re-route (cardinality auto-switch), so the workflow
// is re-dispatched once when it changed.
func (e *Engine) runWithResolution(ctx context.Context, deps execDeps, st *models.ConversationState, devices []models.LoggerInfo, execute func() *models.StatePatch) {
	before := st.ActiveWorkflow
	resolvePatch := e.resolver.Resolve(ctx, st, devices)
	emitPatchTrace(deps, models.StepResolver, resolvePatch)
	resolvePatch.Apply(st)

	if st.ActiveWorkflow != before {
		slog.Debug("Engine.runWithResolution: workflow changed during resolution, re-resolving",
			"conversationID", st.ConversationID, "from", before, "to", st.ActiveWorkflow)
		resolvePatch = e.resolver.Resolve(ctx, st, devices)
		emitPatchTrace(deps, models.StepResolver, resolvePatch)
		resolvePatch.Apply(st)
		execute = func() *models.StatePatch { return e.runWorkflow(ctx, deps, st, devices) }
	}

	if st.Context().WaitingForInput || st.FlowStep != 1 {
		return
	}

	execute().Apply(st)

	if _, failed := lastRecoverable(st.Context().ToolResults); failed {
		runRecovery(ctx, deps, st).Apply(st)
	}
}

// runWorkflow dispatches the four fixed-pipeline executors.
func (e *Engine) runWorkflow(ctx context.Context, deps execDeps, st *models.ConversationState, devices []models.LoggerInfo) *models.StatePatch {
	switch st.ActiveWorkflow {
	case models.WorkflowFleetBriefing:
		return runFleetBriefing(ctx, deps, st, devices)
	case models.WorkflowFinancialSummary:
		return runFinancialSummary(ctx, deps, st)
	case models.WorkflowComparison:
		return runComparison(ctx, deps, st)
	case models.WorkflowHealthCheck:
		return runHealthCheck(ctx, deps, st, devices)
	}
	return runFreeForm(ctx, deps, e.genaiClient, st, e.historyWindow)
}

// emitPatchTrace projects patch-authored assistant output into the trace on
// behalf of nodes that do not hold the emitter (router, resolver): pause
// prompts, transition acknowledgments, and their selection invocations. The
// processor's history priming keeps replayed turns from emitting twice.
func emitPatchTrace(deps execDeps, step models.StepID, patch *models.StatePatch) {
	if patch == nil {
		return
	}
	for _, msg := range patch.AppendMessages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		if text := StripResumeMetadata(msg.Content); text != "" {
			deps.emit(models.TraceRecord{
				Kind:       models.TraceDelta,
				Step:       step,
				Visibility: models.StepUserVisible,
				Delta:      text,
			})
		}
		if len(msg.Invocations) > 0 {
			deps.emit(models.TraceRecord{
				Kind:        models.TraceStepCompleted,
				Step:        step,
				Visibility:  models.StepUserVisible,
				Invocations: msg.Invocations,
			})
		}
	}
}

// fetchCatalog loads the device catalog for argument resolution. A failure is
// not fatal: resolution proceeds without options and the zero-device guidance
// path covers the user-facing outcome.
func (e *Engine) fetchCatalog(ctx context.Context) []models.LoggerInfo {
	resp, err := e.exec.ListLoggers(ctx)
	if err != nil {
		slog.Warn("Engine.fetchCatalog: catalog fetch failed", "error", err)
		return nil
	}
	if !resp.Status.Succeeded() {
		slog.Warn("Engine.fetchCatalog: catalog unavailable", "status", resp.Status, "message", resp.Message)
		return nil
	}
	devices, err := tools.DecodeLoggerList(resp)
	if err != nil {
		slog.Warn("Engine.fetchCatalog: malformed catalog payload", "error", err)
		return nil
	}
	return devices
}

// restoreSession rehydrates a paused workflow. The versioned session record is
// authoritative; the hidden metadata block in the last assistant message is
// the fallback for transcripts predating the store.
func (e *Engine) restoreSession(st *models.ConversationState) {
	rec, err := e.sessions.GetSession(st.ConversationID)
	if err != nil {
		slog.Error("Engine.restoreSession: session lookup failed", "error", err, "conversationID", st.ConversationID)
	}
	if rec != nil {
		fc := &models.FlowContext{}
		if rec.ContextJSON != "" {
			if err := json.Unmarshal([]byte(rec.ContextJSON), fc); err != nil {
				slog.Warn("Engine.restoreSession: malformed context record, starting clean",
					"error", err, "conversationID", st.ConversationID, "version", rec.Version)
				fc = &models.FlowContext{}
			}
		}
		// Records predating the tool-result strip may still carry results;
		// a resumed turn must only see failures it produced itself.
		fc.ToolResults = nil
		st.ActiveWorkflow = models.Workflow(rec.ActiveWorkflow)
		st.RecoveryAttempts = rec.RecoveryAttempts
		st.FlowContext = fc
		if rec.WaitingField != "" {
			fc.WaitingForInput = true
			fc.WaitingField = rec.WaitingField
		}
		slog.Debug("Engine.restoreSession: restored from store",
			"conversationID", st.ConversationID, "workflow", st.ActiveWorkflow, "version", rec.Version)
		return
	}

	meta := RecoverFromHistory(st.Messages)
	if meta == nil {
		return
	}
	st.ActiveWorkflow = meta.Workflow
	st.RecoveryAttempts = meta.RecoveryAttempts
	if meta.Entities != nil {
		st.FlowContext = meta.Entities.WithoutToolResults()
	}
	if meta.WaitingField != "" {
		st.Context().WaitingForInput = true
		st.Context().WaitingField = meta.WaitingField
	}
	slog.Debug("Engine.restoreSession: restored from message metadata",
		"conversationID", st.ConversationID, "workflow", st.ActiveWorkflow)
}

// persistSession saves the paused-workflow record when a prompt is
// outstanding and clears it otherwise.
func (e *Engine) persistSession(st *models.ConversationState) error {
	fc := st.Context()
	if !fc.WaitingForInput {
		if err := e.sessions.DeleteSession(st.ConversationID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}

	ctxJSON, err := json.Marshal(fc.WithoutToolResults())
	if err != nil {
		return fmt.Errorf("marshal flow context: %w", err)
	}
	rec := store.SessionRecord{
		ConversationID:   st.ConversationID,
		ActiveWorkflow:   string(st.ActiveWorkflow),
		WaitingField:     fc.WaitingField,
		RecoveryAttempts: st.RecoveryAttempts,
		ContextJSON:      string(ctxJSON),
	}
	if err := e.sessions.SaveSession(rec); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
