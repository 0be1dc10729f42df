// Package models defines the shared data structures threaded through the
// solar analyst conversation orchestrator: conversation state, flow context,
// classifications, tool responses, and the streamed event vocabulary.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Workflow identifies which task pipeline is active for a conversation turn.
type Workflow string

const (
	// WorkflowFleetBriefing summarizes site-wide fleet status.
	WorkflowFleetBriefing Workflow = "fleet_briefing"
	// WorkflowFinancialSummary calculates savings and a short forecast for one device.
	WorkflowFinancialSummary Workflow = "financial_summary"
	// WorkflowComparison compares a metric across 2-5 devices.
	WorkflowComparison Workflow = "comparison"
	// WorkflowHealthCheck runs anomaly analysis for one device (or all devices).
	WorkflowHealthCheck Workflow = "health_check"
	// WorkflowFreeForm is the open-ended conversational fallback.
	WorkflowFreeForm Workflow = "free_form"
	// WorkflowGreeting is the zero-latency greeting short-circuit.
	WorkflowGreeting Workflow = "greeting"
)

// Valid reports whether w is one of the known workflow values.
func (w Workflow) Valid() bool {
	switch w {
	case WorkflowFleetBriefing, WorkflowFinancialSummary, WorkflowComparison,
		WorkflowHealthCheck, WorkflowFreeForm, WorkflowGreeting:
		return true
	}
	return false
}

// SingleDevice reports whether the workflow operates on exactly one device.
// Selecting multiple devices while one of these is active triggers the
// cardinality auto-switch to the comparison workflow.
func (w Workflow) SingleDevice() bool {
	return w == WorkflowFinancialSummary || w == WorkflowHealthCheck
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleTool marks an acknowledgment turn answering a pending invocation.
	RoleTool Role = "tool"
)

// Message is a single turn in the conversation log. Assistant turns may carry
// zero or more pending invocations; tool turns carry the InvocationID of the
// invocation they acknowledge.
type Message struct {
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	Invocations  []Invocation `json:"invocations,omitempty"`
	InvocationID string       `json:"invocationId,omitempty"`
	Timestamp    time.Time    `json:"timestamp,omitzero"`
}

// DateRange is an inclusive date window in YYYY-MM-DD form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Complete reports whether both bounds are set.
func (r *DateRange) Complete() bool {
	return r != nil && r.Start != "" && r.End != ""
}

// ToolResult is one prior analysis-operation result, keyed by operation name.
// Results are kept in invocation order so recovery can find the first failure.
type ToolResult struct {
	Name     string       `json:"name"`
	Response ToolResponse `json:"response"`
}

// FlowContext is the accumulated key-value state threaded through a
// conversation. It layers two lifetimes in one object: workflow-scoped fields
// are cleared on every workflow switch, while session-scoped fields survive
// switches for the life of the conversation.
type FlowContext struct {
	// Workflow-scoped.
	SelectedLoggerID  string      `json:"selectedLoggerId,omitempty"`
	SelectedLoggerIDs []string    `json:"selectedLoggerIds,omitempty"`
	SelectedDate      string      `json:"selectedDate,omitempty"`
	SelectedRange     *DateRange  `json:"selectedRange,omitempty"`
	NamePattern       string      `json:"namePattern,omitempty"`
	Metric            string      `json:"metric,omitempty"`
	AllDevices        bool        `json:"allDevices,omitempty"`
	ToolResults       []ToolResult `json:"toolResults,omitempty"`
	WaitingForInput   bool        `json:"waitingForInput,omitempty"`
	WaitingField      string      `json:"waitingField,omitempty"`

	// Session-scoped: survives workflow switches.
	ElectricityRate float64 `json:"electricityRate,omitempty"`
	PreferredMetric string  `json:"preferredMetric,omitempty"`
}

// SessionOnly returns a clean context retaining only the session-scoped
// subset. Every workflow switch must start from this, never from the raw bag,
// so stale device or date selections cannot leak into an unrelated workflow.
func (c *FlowContext) SessionOnly() *FlowContext {
	if c == nil {
		return &FlowContext{}
	}
	return &FlowContext{
		ElectricityRate: c.ElectricityRate,
		PreferredMetric: c.PreferredMetric,
	}
}

// Merge applies patch onto c as a shallow merge: non-zero fields overwrite,
// ToolResults append, and boolean waiting flags copy only when the patch
// touches the waiting field (WaitingField set or explicitly cleared via
// ClearWaiting on the patch carrier).
func (c *FlowContext) Merge(patch *FlowContext) {
	if patch == nil {
		return
	}
	if patch.SelectedLoggerID != "" {
		c.SelectedLoggerID = patch.SelectedLoggerID
	}
	if len(patch.SelectedLoggerIDs) > 0 {
		c.SelectedLoggerIDs = patch.SelectedLoggerIDs
	}
	if patch.SelectedDate != "" {
		c.SelectedDate = patch.SelectedDate
	}
	if patch.SelectedRange != nil {
		c.SelectedRange = patch.SelectedRange
	}
	if patch.NamePattern != "" {
		c.NamePattern = patch.NamePattern
	}
	if patch.Metric != "" {
		c.Metric = patch.Metric
	}
	if patch.AllDevices {
		c.AllDevices = true
	}
	if len(patch.ToolResults) > 0 {
		c.ToolResults = append(c.ToolResults, patch.ToolResults...)
	}
	if patch.WaitingForInput {
		c.WaitingForInput = true
		c.WaitingField = patch.WaitingField
	}
	if patch.ElectricityRate != 0 {
		c.ElectricityRate = patch.ElectricityRate
	}
	if patch.PreferredMetric != "" {
		c.PreferredMetric = patch.PreferredMetric
	}
}

// WithoutToolResults returns a shallow copy with accumulated tool results
// dropped. Persisted context must never carry them: a resumed turn would
// otherwise re-detect the previous turn's failure as if it just happened.
func (c *FlowContext) WithoutToolResults() *FlowContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ToolResults = nil
	return &cp
}

// FindResult returns the most recent tool result with the given operation name.
func (c *FlowContext) FindResult(name string) (ToolResult, bool) {
	for i := len(c.ToolResults) - 1; i >= 0; i-- {
		if c.ToolResults[i].Name == name {
			return c.ToolResults[i], true
		}
	}
	return ToolResult{}, false
}

// ConversationState is the unit of execution passed into every orchestration
// node. Nodes never mutate it directly; they return a StatePatch that the
// engine merges.
type ConversationState struct {
	ConversationID   string            `json:"conversationId"`
	Messages         []Message         `json:"messages"`
	ActiveWorkflow   Workflow          `json:"activeWorkflow,omitempty"`
	FlowStep         int               `json:"flowStep"`
	RecoveryAttempts int               `json:"recoveryAttempts"`
	PendingUiActions []PendingUiAction `json:"pendingUiActions,omitempty"`
	FlowContext      *FlowContext      `json:"flowContext,omitempty"`
}

// Context returns the flow context, initializing an empty bag on first use.
func (s *ConversationState) Context() *FlowContext {
	if s.FlowContext == nil {
		s.FlowContext = &FlowContext{}
	}
	return s.FlowContext
}

// LastUserMessage returns the most recent user-authored, non-blank message.
func (s *ConversationState) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser && strings.TrimSpace(s.Messages[i].Content) != "" {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// StatePatch is the partial update a node returns. The engine applies it by
// simple field overwrite; the context bag is the one exception, which merges
// shallowly (or replaces wholesale when ReplaceContext is set, used for the
// clean-context reset on workflow switch).
type StatePatch struct {
	AppendMessages   []Message
	ActiveWorkflow   *Workflow
	FlowStep         *int
	RecoveryAttempts *int
	AppendActions    []PendingUiAction
	Context          *FlowContext
	ReplaceContext   bool
	// ClearWaiting resets the waiting flag and field without touching the
	// rest of the bag. Needed because a zero-valued bool cannot express
	// "explicitly turn this off" through Merge.
	ClearWaiting bool
}

// Apply merges the patch into the state.
func (p *StatePatch) Apply(s *ConversationState) {
	if p == nil {
		return
	}
	s.Messages = append(s.Messages, p.AppendMessages...)
	if p.ActiveWorkflow != nil {
		s.ActiveWorkflow = *p.ActiveWorkflow
	}
	if p.FlowStep != nil {
		s.FlowStep = *p.FlowStep
	}
	if p.RecoveryAttempts != nil {
		s.RecoveryAttempts = *p.RecoveryAttempts
	}
	s.PendingUiActions = append(s.PendingUiActions, p.AppendActions...)
	if p.ReplaceContext {
		if p.Context != nil {
			s.FlowContext = p.Context
		} else {
			s.FlowContext = &FlowContext{}
		}
	} else if p.Context != nil {
		s.Context().Merge(p.Context)
	}
	if p.ClearWaiting {
		ctx := s.Context()
		ctx.WaitingForInput = false
		ctx.WaitingField = ""
	}
}

// UiActionKind distinguishes the two terminal interactive actions.
type UiActionKind string

const (
	// UiActionRender instructs the client to render a visual component.
	UiActionRender UiActionKind = "render"
	// UiActionSelect asks the user to choose a value (device, date, range).
	UiActionSelect UiActionKind = "select"
)

// PendingUiAction is a not-yet-acknowledged interactive request queued for the
// client. Its ID is the deduplication key in the event stream: an action is
// appended exactly once per logical occurrence and never re-emitted once seen.
type PendingUiAction struct {
	ID      string          `json:"id"`
	Kind    UiActionKind    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
