// Package events projects the orchestrator's raw execution trace into the
// small ordered event vocabulary the client consumes: text fragments,
// invocation-started, and invocation-completed.
//
// The processor deduplicates by invocation identity so replayed or re-entered
// steps never double-emit, and filters out internal bookkeeping steps
// entirely. Delivery is at-most-once up to the point a consumer abandons the
// stream; partially-emitted events are never retracted.
package events

import (
	"log/slog"

	"github.com/solarlytics/analyst/internal/models"
)

// Processor converts trace records into client events for one conversation.
// It is not safe for concurrent use; each conversation turn owns one
// processor, matching the single-threaded cooperative execution model.
type Processor struct {
	seenInvocations map[string]struct{}
	seenCompletions map[string]struct{}
}

// NewProcessor creates a processor with empty dedup sets.
func NewProcessor() *Processor {
	return &Processor{
		seenInvocations: make(map[string]struct{}),
		seenCompletions: make(map[string]struct{}),
	}
}

// PrimeHistory scans pre-existing conversation messages once to pre-populate
// the dedup sets, so re-submitting history never re-emits already-delivered
// events.
func (p *Processor) PrimeHistory(messages []models.Message) {
	for _, msg := range messages {
		for _, inv := range msg.Invocations {
			if inv.ID == "" {
				continue
			}
			p.seenInvocations[inv.ID] = struct{}{}
			if inv.Kind.PassThrough() {
				p.seenCompletions[inv.ID] = struct{}{}
			}
		}
		if msg.Role == models.RoleTool && msg.InvocationID != "" {
			p.seenCompletions[msg.InvocationID] = struct{}{}
		}
	}
	slog.Debug("Processor.PrimeHistory: dedup sets primed",
		"invocations", len(p.seenInvocations), "completions", len(p.seenCompletions))
}

// Process projects one trace record into zero or more client events.
func (p *Processor) Process(rec models.TraceRecord) []models.StreamEvent {
	if rec.Visibility == models.StepInternal {
		return nil
	}

	switch rec.Kind {
	case models.TraceDelta:
		if rec.Delta == "" {
			return nil
		}
		return []models.StreamEvent{{Type: models.EventText, Delta: rec.Delta}}

	case models.TraceStepCompleted:
		var out []models.StreamEvent
		for _, inv := range rec.Invocations {
			if inv.ID == "" {
				continue
			}
			if _, dup := p.seenInvocations[inv.ID]; dup {
				slog.Debug("Processor.Process: dropping duplicate invocation", "id", inv.ID, "name", inv.Name)
				continue
			}
			p.seenInvocations[inv.ID] = struct{}{}
			out = append(out, models.StreamEvent{
				Type: models.EventInvocationStarted,
				ID:   inv.ID,
				Name: inv.Name,
				Args: inv.Args,
			})
			// Pass-through invocations have no downstream execution: their
			// arguments are their result, and no completion record will
			// arrive. Emit completed immediately.
			if inv.Kind.PassThrough() {
				p.seenCompletions[inv.ID] = struct{}{}
				out = append(out, models.StreamEvent{
					Type:   models.EventInvocationCompleted,
					ID:     inv.ID,
					Name:   inv.Name,
					Result: inv.Args,
				})
			}
		}
		return out

	case models.TraceToolCompleted:
		if rec.ToolCallID == "" {
			return nil
		}
		if _, dup := p.seenCompletions[rec.ToolCallID]; dup {
			slog.Debug("Processor.Process: dropping duplicate completion", "id", rec.ToolCallID)
			return nil
		}
		p.seenCompletions[rec.ToolCallID] = struct{}{}
		return []models.StreamEvent{{
			Type:   models.EventInvocationCompleted,
			ID:     rec.ToolCallID,
			Name:   rec.ToolName,
			Result: rec.Result,
		}}
	}
	return nil
}
