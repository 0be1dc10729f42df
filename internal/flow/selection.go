package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/solarlytics/analyst/internal/models"
)

// handleSelection processes a user turn that answers a pending argument
// request: acknowledge the invocation that asked, map the selected value onto
// the right context field, clear the waiting flag, and advance the workflow.
func handleSelection(st *models.ConversationState, cls *models.Classification, rawMessage string) *models.StatePatch {
	fc := st.Context()
	value := selectedValue(cls, rawMessage)

	patch := &models.StatePatch{ClearWaiting: true}

	// The upstream model contract demands every invocation receive exactly
	// one matching acknowledgment before the conversation can continue.
	// Skipping the acknowledgment when no durable id exists is safe;
	// omitting it when one does exist is not.
	if invID := pendingSelectInvocationID(st.Messages); invID != "" {
		patch.AppendMessages = append(patch.AppendMessages, models.Message{
			Role:         models.RoleTool,
			InvocationID: invID,
			Content:      value,
		})
	}

	ctxPatch := &models.FlowContext{}
	switch fc.WaitingField {
	case FieldLoggerID:
		ctxPatch.SelectedLoggerID = value
	case FieldLoggerIDs:
		ctxPatch.SelectedLoggerIDs = splitSelections(cls, value)
	case FieldDate:
		ctxPatch.SelectedDate = value
		// Range-driven workflows read SelectedRange, and a stale range is
		// usually why the date was asked for. Re-anchor it on the picked day,
		// keeping the previous window length.
		if rng := rangeEndingAt(value, fc.SelectedRange); rng != nil {
			ctxPatch.SelectedRange = rng
		}
	case FieldDateRange:
		if rng, ok := parseRangeValue(value); ok {
			ctxPatch.SelectedRange = rng
		} else {
			slog.Warn("flow.handleSelection: unparseable range value", "value", value)
			ctxPatch.SelectedDate = value
		}
	default:
		slog.Warn("flow.handleSelection: selection with no known waiting field", "field", fc.WaitingField)
	}
	patch.Context = ctxPatch

	step := 1
	patch.FlowStep = &step

	patch.AppendMessages = append(patch.AppendMessages, models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("Got it - using %s.", value),
	})
	return patch
}

// rangeEndingAt builds a window ending on the given day, spanning as many days
// as the previous range (or the seven-day default when there was none).
// Returns nil when the day is not a parseable date.
func rangeEndingAt(day string, prev *models.DateRange) *models.DateRange {
	end, err := parseDay(day)
	if err != nil {
		return nil
	}
	days := rangeDays(prev, 7)
	start := end.AddDate(0, 0, -(days - 1))
	return &models.DateRange{
		Start: start.Format("2006-01-02"),
		End:   end.Format("2006-01-02"),
	}
}

// selectedValue picks the answer out of the classification, falling back to
// the raw message with any "I selected:" preamble removed.
func selectedValue(cls *models.Classification, rawMessage string) string {
	if cls.SelectedValue != "" {
		return strings.TrimSpace(cls.SelectedValue)
	}
	val := strings.TrimSpace(rawMessage)
	for _, prefix := range []string{"i selected:", "i selected", "i pick", "i choose"} {
		if strings.HasPrefix(strings.ToLower(val), prefix) {
			return strings.TrimSpace(val[len(prefix):])
		}
	}
	return val
}

// pendingSelectInvocationID finds the durable id of the most recent
// selection-request invocation issued by an assistant turn, if any.
func pendingSelectInvocationID(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleAssistant {
			continue
		}
		for _, inv := range messages[i].Invocations {
			if inv.Kind == models.InvocationSelect && inv.ID != "" {
				return inv.ID
			}
		}
	}
	return ""
}

// splitSelections parses a multi-select answer: the classifier's extracted
// list when present, otherwise a comma-joined string.
func splitSelections(cls *models.Classification, value string) []string {
	if len(cls.ExtractedParams.LoggerIDs) > 0 {
		return cls.ExtractedParams.LoggerIDs
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseRangeValue parses a "start:end" date pair.
func parseRangeValue(value string) (*models.DateRange, bool) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return nil, false
	}
	start := strings.TrimSpace(parts[0])
	end := strings.TrimSpace(parts[1])
	if start == "" || end == "" {
		return nil, false
	}
	return &models.DateRange{Start: start, End: end}, true
}
