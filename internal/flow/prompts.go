// Package flow implements the conversation orchestration core: intent
// routing, argument resolution, workflow execution, recovery, and the
// patch-merge state machine that ties them together.
package flow

import (
	"fmt"
	"strings"

	"github.com/solarlytics/analyst/internal/models"
)

// classificationSystemPrompt instructs the classifier to emit a single JSON
// object matching the Classification schema. The router parses the response
// defensively, so hallucinated prose or fences around the object are tolerated.
const classificationSystemPrompt = `You are the intent classifier for a solar fleet monitoring assistant.
Classify the latest user message into exactly one flow:
- "fleet_briefing": site-wide status, "how is my site doing", fleet overview
- "financial_summary": savings, money, cost, CO2, financial questions about one device
- "comparison": comparing two or more devices against each other
- "health_check": anomalies, faults, outages, device health
- "free_form": anything else, including help requests and general questions

Extract any entities the message contains: device/logger ids (bare numbers or serials),
a device name or type pattern (e.g. "the GoodWe"), a single date, or a date range.
Set allDevices to true when the message targets every device ("all devices",
"each inverter", "the whole fleet" in a health question).

Respond with ONE JSON object and nothing else:
{
  "flow": "<flow>",
  "confidence": <0..1>,
  "isSelectionResponse": <bool>,
  "selectedValue": "<value if this answers a pending prompt>",
  "extractedParams": {
    "loggerId": "", "loggerIds": [], "namePattern": "",
    "metric": "", "date": "", "startDate": "", "endDate": "", "allDevices": false
  }
}`

// pendingArgumentBlock is injected when a workflow is waiting on an argument.
func pendingArgumentBlock(workflow models.Workflow, waitingField string) string {
	return fmt.Sprintf(`CONTEXT: The "%s" workflow is paused, waiting for the user to supply "%s".
- If the message looks like a direct answer (a bare identifier, a bare date, or "I selected: X"),
  set isSelectionResponse to true and put the answer in selectedValue.
- If the message contains cancellation language ("never mind", "cancel", "something else"),
  classify it as a new request instead.
- If it asks for help, classify it as "free_form".`, workflow, waitingField)
}

// selectionPromptSystem phrases a human-readable selection request. The
// resolver falls back to static text when this call fails.
const selectionPromptSystem = `You write one short, friendly sentence asking the user of a solar
monitoring product to pick a value. Mention the matched device name when one is given.
Plain text only, no markdown, no lists.`

// conversationWindow formats the last few turns as classifier context. The
// full history is never sent; the window is bounded.
func conversationWindow(messages []models.Message, limit int) string {
	var turns []models.Message
	for _, m := range messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, m)
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	var b strings.Builder
	for _, m := range turns {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(StripResumeMetadata(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// workflowLabel returns the user-facing name for a workflow.
func workflowLabel(w models.Workflow) string {
	switch w {
	case models.WorkflowFleetBriefing:
		return "fleet briefing"
	case models.WorkflowFinancialSummary:
		return "financial summary"
	case models.WorkflowComparison:
		return "device comparison"
	case models.WorkflowHealthCheck:
		return "health check"
	case models.WorkflowFreeForm:
		return "open chat"
	case models.WorkflowGreeting:
		return "greeting"
	}
	return string(w)
}

// Static texts used when no classifier phrasing is available or wanted.
const (
	greetingText = "Hello! I can brief you on your solar fleet, calculate savings, compare devices, or check device health. What would you like to know?"

	uploadGuidanceText = "I couldn't find any devices with data yet. Upload measurement data for at least one logger, then ask me again."

	genericErrorText = "I ran into a problem fetching that data, so I can't complete this request right now. Feel free to try again or ask something else."
)

func staticSelectionPrompt(field string, matched string) string {
	if matched != "" {
		return fmt.Sprintf("I found devices matching %q. Which one should I use?", matched)
	}
	switch field {
	case FieldLoggerID:
		return "Which device should I look at?"
	case FieldLoggerIDs:
		return "Which devices should I compare? Pick at least two."
	case FieldDate:
		return "Which date should I use?"
	case FieldDateRange:
		return "Which date range should I use?"
	}
	return "Please pick a value to continue."
}
