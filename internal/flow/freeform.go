package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/models"
)

// maxToolRounds bounds the free-form tool loop.
const maxToolRounds = 5

const freeFormSystemPrompt = `You are a friendly solar fleet monitoring assistant. You can call
analysis tools to answer questions about the user's devices: fleet status, device health,
power curves, comparisons, savings, forecasts, diagnostics, and performance ratios.
Answer in plain, non-technical language. When data is missing, say so simply.`

// runFreeForm answers an open-ended turn through an LLM tool loop: the model
// may call analysis operations, whose results feed back into the next round,
// until it produces a user-facing answer. A recoverable tool failure stops
// the loop so the shared recovery subgraph takes over.
func runFreeForm(ctx context.Context, deps execDeps, genaiClient genai.ClientInterface, st *models.ConversationState, historyWindow int) *models.StatePatch {
	patch := &models.StatePatch{Context: &models.FlowContext{}}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(freeFormSystemPrompt)}
	messages = append(messages, historyAsOpenAI(st.Messages, historyWindow)...)

	// Assistant text reaches the stream token by token as the model produces
	// it; a round that ends in tool calls rarely carries any.
	onDelta := func(fragment string) {
		deps.emit(models.TraceRecord{
			Kind:       models.TraceDelta,
			Step:       models.StepFreeForm,
			Visibility: models.StepUserVisible,
			Delta:      fragment,
		})
	}

	for round := 1; round <= maxToolRounds; round++ {
		slog.Debug("flow.runFreeForm: round start", "conversationID", st.ConversationID, "round", round, "messageCount", len(messages))

		resp, err := genaiClient.StreamWithTools(ctx, messages, analysisToolDefs(), onDelta)
		if err != nil {
			slog.Error("flow.runFreeForm: generation failed", "error", err, "conversationID", st.ConversationID)
			say(deps, models.StepFreeForm, patch, genericErrorText)
			return patch
		}

		if len(resp.ToolCalls) == 0 {
			// Already streamed as deltas; only record the transcript turn.
			if text := strings.TrimSpace(resp.Content); text != "" {
				patch.AppendMessages = append(patch.AppendMessages, models.Message{
					Role:    models.RoleAssistant,
					Content: text,
				})
			}
			return patch
		}

		// OpenAI requires the assistant message carrying tool_calls before
		// the tool result messages that reference those ids.
		var toolCalls []openai.ChatCompletionMessageToolCallParam
		for _, tc := range resp.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: string(tc.Function.Arguments),
				},
			})
		}
		assistantMsg := openai.ChatCompletionAssistantMessageParam{
			Content: openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(resp.Content),
			},
			ToolCalls: toolCalls,
		}
		messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg})

		sawRecoverable := false
		for _, tc := range resp.ToolCalls {
			toolResp := executeNamedTool(ctx, deps, st, tc)
			patch.Context.ToolResults = append(patch.Context.ToolResults, models.ToolResult{
				Name:     tc.Function.Name,
				Response: toolResp,
			})

			resultJSON, err := json.Marshal(toolResp)
			if err != nil {
				resultJSON = []byte(`{"status":"error"}`)
			}
			messages = append(messages, openai.ToolMessage(string(resultJSON), tc.ID))

			if toolResp.Status.Recoverable() {
				sawRecoverable = true
			}
		}
		if sawRecoverable {
			slog.Debug("flow.runFreeForm: recoverable tool failure, deferring to recovery", "conversationID", st.ConversationID)
			return patch
		}
	}

	say(deps, models.StepFreeForm, patch, "I wasn't able to finish working through that. Could you rephrase or narrow the question?")
	return patch
}

// executeNamedTool dispatches one model-decided tool call to the executor,
// emitting the invocation and completion with the model's own call id so the
// event stream matches the conversation record.
func executeNamedTool(ctx context.Context, deps execDeps, st *models.ConversationState, tc genai.ToolCall) models.ToolResponse {
	deps.emit(models.TraceRecord{
		Kind:       models.TraceStepCompleted,
		Step:       models.StepFreeForm,
		Visibility: models.StepUserVisible,
		Invocations: []models.Invocation{{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Kind: models.InvocationTool,
			Args: tc.Function.Arguments,
		}},
	})

	resp, err := dispatchToolCall(ctx, deps, st, tc)
	if err != nil {
		slog.Error("flow.executeNamedTool: dispatch failed", "tool", tc.Function.Name, "error", err)
		resp = models.ToolResponse{Status: models.DataStatusError, Message: err.Error()}
	}

	resultJSON, err := json.Marshal(resp)
	if err != nil {
		resultJSON = []byte(`{"status":"error"}`)
	}
	deps.emit(models.TraceRecord{
		Kind:       models.TraceToolCompleted,
		Step:       models.StepFreeForm,
		Visibility: models.StepUserVisible,
		ToolCallID: tc.ID,
		ToolName:   tc.Function.Name,
		Result:     resultJSON,
	})
	return resp
}

// toolCallArgs is the union of parameters across analysis operations.
type toolCallArgs struct {
	LoggerID        string   `json:"logger_id"`
	LoggerIDs       []string `json:"logger_ids"`
	Days            int      `json:"days"`
	Date            string   `json:"date"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
	Metric          string   `json:"metric"`
	ElectricityRate float64  `json:"electricity_rate"`
}

func dispatchToolCall(ctx context.Context, deps execDeps, st *models.ConversationState, tc genai.ToolCall) (models.ToolResponse, error) {
	var args toolCallArgs
	if len(tc.Function.Arguments) > 0 {
		if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
			return models.ToolResponse{}, fmt.Errorf("malformed arguments for %s: %w", tc.Function.Name, err)
		}
	}
	if args.Days <= 0 {
		args.Days = 7
	}
	if args.Metric == "" {
		args.Metric = "power"
	}
	if args.ElectricityRate == 0 {
		args.ElectricityRate = st.Context().ElectricityRate
	}
	if args.ElectricityRate == 0 {
		args.ElectricityRate = deps.defaultRate
	}
	rng := models.DateRange{Start: args.StartDate, End: args.EndDate}

	switch tc.Function.Name {
	case models.OpListLoggers:
		return deps.exec.ListLoggers(ctx)
	case models.OpFleetOverview:
		return deps.exec.FleetOverview(ctx)
	case models.OpInverterHealth:
		return deps.exec.InverterHealth(ctx, args.LoggerID, args.Days)
	case models.OpPowerCurve:
		return deps.exec.PowerCurve(ctx, args.LoggerID, args.Date)
	case models.OpCompareLoggers:
		return deps.exec.CompareLoggers(ctx, args.LoggerIDs, args.Metric, args.Date)
	case models.OpFinancialSavings:
		return deps.exec.FinancialSavings(ctx, args.LoggerID, rng, args.ElectricityRate)
	case models.OpForecast:
		return deps.exec.Forecast(ctx, args.LoggerID, args.Days)
	case models.OpDiagnoseErrors:
		return deps.exec.DiagnoseErrors(ctx, args.LoggerID, args.Days)
	case models.OpPerformanceRatio:
		return deps.exec.PerformanceRatio(ctx, args.LoggerID, rng)
	}
	return models.ToolResponse{}, fmt.Errorf("unknown tool %q", tc.Function.Name)
}

// historyAsOpenAI converts the bounded conversation window for the chat API,
// stripping resume metadata first.
func historyAsOpenAI(history []models.Message, limit int) []openai.ChatCompletionMessageParamUnion {
	var turns []models.Message
	for _, m := range history {
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

	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range turns {
		content := StripResumeMetadata(m.Content)
		if m.Role == models.RoleUser {
			out = append(out, openai.UserMessage(content))
		} else {
			out = append(out, openai.AssistantMessage(content))
		}
	}
	return out
}

func deviceToolDef(name, description string, extra map[string]any) openai.ChatCompletionToolParam {
	props := map[string]any{
		"logger_id": map[string]any{"type": "string", "description": "Logger/inverter serial number"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        name,
			Description: openai.String(description),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": props,
			},
		},
	}
}

// analysisToolDefs declares the analysis operations for the free-form loop.
func analysisToolDefs() []openai.ChatCompletionToolParam {
	days := map[string]any{"days": map[string]any{"type": "integer", "description": "Number of days to analyze (default 7)"}}
	date := map[string]any{"date": map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format"}}
	rng := map[string]any{
		"start_date": map[string]any{"type": "string", "description": "Start date in YYYY-MM-DD format"},
		"end_date":   map[string]any{"type": "string", "description": "End date in YYYY-MM-DD format"},
	}

	return []openai.ChatCompletionToolParam{
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.OpListLoggers,
				Description: openai.String("List all available loggers/inverters with their data date ranges"),
				Parameters:  shared.FunctionParameters{"type": "object", "properties": map[string]any{}},
			},
		},
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.OpFleetOverview,
				Description: openai.String("Get high-level status of the entire solar fleet: total power, energy, active devices"),
				Parameters:  shared.FunctionParameters{"type": "object", "properties": map[string]any{}},
			},
		},
		deviceToolDef(models.OpInverterHealth, "Analyze inverter health by detecting anomalies like daytime outages", days),
		deviceToolDef(models.OpPowerCurve, "Get power and irradiance timeseries for a specific date", date),
		{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        models.OpCompareLoggers,
				Description: openai.String("Compare 2-5 loggers on a metric (power, energy, or irradiance)"),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"logger_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "2-5 logger IDs"},
						"metric":     map[string]any{"type": "string", "enum": []string{"power", "energy", "irradiance"}},
						"date":       map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format (optional)"},
					},
				},
			},
		},
		deviceToolDef(models.OpFinancialSavings, "Calculate money saved and CO2 offset from solar generation over a date range", mergeProps(rng, map[string]any{
			"electricity_rate": map[string]any{"type": "number", "description": "Electricity rate in $/kWh (default 0.20)"},
		})),
		deviceToolDef(models.OpForecast, "Forecast production for the next days", days),
		deviceToolDef(models.OpDiagnoseErrors, "Look up recorded error codes and suggested fixes for a device", days),
		deviceToolDef(models.OpPerformanceRatio, "Compute the performance ratio over a date range", rng),
	}
}

func mergeProps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
