package models

import "encoding/json"

// InvocationKind distinguishes pass-through invocations, whose arguments are
// their own result, from real tool invocations executed by a backend
// operation. The kind is a typed tag rather than a name-string check so a
// renamed invocation cannot silently change routing.
type InvocationKind string

const (
	// InvocationTool is executed by the tool-execution service.
	InvocationTool InvocationKind = "tool"
	// InvocationSelect asks the user to choose a value; pass-through.
	InvocationSelect InvocationKind = "select"
	// InvocationRender instructs the client to render a component; pass-through.
	InvocationRender InvocationKind = "render"
)

// PassThrough reports whether the invocation kind has no downstream execution.
// For pass-through invocations the processor emits started and completed
// immediately, since no separate completion record will ever arrive.
func (k InvocationKind) PassThrough() bool {
	return k == InvocationSelect || k == InvocationRender
}

// Invocation is one tool or UI call decided during a step.
type Invocation struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Kind InvocationKind  `json:"kind"`
	Args json.RawMessage `json:"args,omitempty"`
}

// StepID names an orchestration node in the execution trace.
type StepID string

const (
	StepRouter           StepID = "router"
	StepSelection        StepID = "selection"
	StepResolver         StepID = "resolver"
	StepGreeting         StepID = "greeting"
	StepFreeForm         StepID = "free_form"
	StepFleetBriefing    StepID = "fleet_briefing"
	StepFinancialSummary StepID = "financial_summary"
	StepComparison       StepID = "comparison"
	StepHealthCheck      StepID = "health_check"
	StepRecovery         StepID = "recovery"
)

// StepVisibility is a typed tag distinguishing user-visible steps from
// internal bookkeeping steps, checked by type rather than by name-string
// membership.
type StepVisibility int

const (
	// StepInternal output is implementation detail and never streamed.
	StepInternal StepVisibility = iota
	// StepUserVisible output is projected into the public event stream.
	StepUserVisible
)

// TraceKind tags one record in the raw execution trace.
type TraceKind string

const (
	// TraceDelta is a model streaming token fragment.
	TraceDelta TraceKind = "delta"
	// TraceStepCompleted carries any invocations the step decided to make.
	TraceStepCompleted TraceKind = "step_completed"
	// TraceToolCompleted carries the result of a real tool invocation.
	TraceToolCompleted TraceKind = "tool_completed"
)

// TraceRecord is one entry of the low-level execution trace consumed by the
// event stream processor.
type TraceRecord struct {
	Kind        TraceKind
	Step        StepID
	Visibility  StepVisibility
	Delta       string
	Invocations []Invocation
	// Tool completion fields.
	ToolCallID string
	ToolName   string
	Result     json.RawMessage
}

// StreamEventType is the public event vocabulary delivered to the client.
type StreamEventType string

const (
	EventText                StreamEventType = "text"
	EventInvocationStarted   StreamEventType = "invocation-started"
	EventInvocationCompleted StreamEventType = "invocation-completed"
)

// StreamEvent is one ordered event in the client-consumable stream.
type StreamEvent struct {
	Type   StreamEventType `json:"type"`
	Delta  string          `json:"delta,omitempty"`
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}
