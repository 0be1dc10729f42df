package flow

// Shared mock collaborators for flow tests.

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/models"
)

// MockGenAIClient implements genai.ClientInterface with canned responses.
type MockGenAIClient struct {
	// PromptResponse is returned by GeneratePromptWithContext.
	PromptResponse string
	PromptErr      error

	// ToolResponses are returned by StreamWithTools in order; the last one
	// repeats when the queue runs dry.
	ToolResponses []*genai.ToolCallResponse
	ToolErr       error

	PromptCalls int
	ToolCalls   int
	LastSystem  string
	LastUser    string

	toolIdx int
}

func (m *MockGenAIClient) GeneratePromptWithContext(ctx context.Context, system, user string) (string, error) {
	m.PromptCalls++
	m.LastSystem = system
	m.LastUser = user
	if m.PromptErr != nil {
		return "", m.PromptErr
	}
	return m.PromptResponse, nil
}

// StreamWithTools pops the next canned response, delivering any assistant
// text through onDelta the way the real stream would.
func (m *MockGenAIClient) StreamWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, onDelta func(string)) (*genai.ToolCallResponse, error) {
	m.ToolCalls++
	if m.ToolErr != nil {
		return nil, m.ToolErr
	}
	resp := &genai.ToolCallResponse{Content: m.PromptResponse}
	if len(m.ToolResponses) > 0 {
		idx := m.toolIdx
		if idx >= len(m.ToolResponses) {
			idx = len(m.ToolResponses) - 1
		}
		m.toolIdx++
		resp = m.ToolResponses[idx]
	}
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

// stubExecutor implements tools.Executor from a per-operation response table.
// Operations without an entry return an ok response with an empty payload.
type stubExecutor struct {
	responses map[string]models.ToolResponse
	errs      map[string]error
	calls     []string
	// savingsRanges records the window of every financial_savings call.
	savingsRanges []models.DateRange
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		responses: make(map[string]models.ToolResponse),
		errs:      make(map[string]error),
	}
}

func (s *stubExecutor) set(op string, resp models.ToolResponse) { s.responses[op] = resp }

func (s *stubExecutor) respond(op string) (models.ToolResponse, error) {
	s.calls = append(s.calls, op)
	if err, ok := s.errs[op]; ok {
		return models.ToolResponse{}, err
	}
	if resp, ok := s.responses[op]; ok {
		return resp, nil
	}
	return models.ToolResponse{Status: models.DataStatusOK}, nil
}

func (s *stubExecutor) callCount(op string) int {
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (s *stubExecutor) ListLoggers(ctx context.Context) (models.ToolResponse, error) {
	return s.respond(models.OpListLoggers)
}

func (s *stubExecutor) FleetOverview(ctx context.Context) (models.ToolResponse, error) {
	return s.respond(models.OpFleetOverview)
}

func (s *stubExecutor) InverterHealth(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return s.respond(models.OpInverterHealth)
}

func (s *stubExecutor) PowerCurve(ctx context.Context, loggerID, date string) (models.ToolResponse, error) {
	return s.respond(models.OpPowerCurve)
}

func (s *stubExecutor) CompareLoggers(ctx context.Context, loggerIDs []string, metric, date string) (models.ToolResponse, error) {
	return s.respond(models.OpCompareLoggers)
}

func (s *stubExecutor) FinancialSavings(ctx context.Context, loggerID string, rng models.DateRange, electricityRate float64) (models.ToolResponse, error) {
	s.savingsRanges = append(s.savingsRanges, rng)
	return s.respond(models.OpFinancialSavings)
}

func (s *stubExecutor) Forecast(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return s.respond(models.OpForecast)
}

func (s *stubExecutor) DiagnoseErrors(ctx context.Context, loggerID string, days int) (models.ToolResponse, error) {
	return s.respond(models.OpDiagnoseErrors)
}

func (s *stubExecutor) PerformanceRatio(ctx context.Context, loggerID string, rng models.DateRange) (models.ToolResponse, error) {
	return s.respond(models.OpPerformanceRatio)
}

// traceCollector records emitted trace records for assertion.
type traceCollector struct {
	records []models.TraceRecord
}

func (c *traceCollector) emit(rec models.TraceRecord) {
	c.records = append(c.records, rec)
}

func (c *traceCollector) deltas() []string {
	var out []string
	for _, rec := range c.records {
		if rec.Kind == models.TraceDelta {
			out = append(out, rec.Delta)
		}
	}
	return out
}

func testDeps(exec *stubExecutor, collector *traceCollector) execDeps {
	return execDeps{exec: exec, emit: collector.emit, defaultRate: 0.20}
}

// catalogResponse builds a list_loggers response for the given devices.
func catalogResponse(devices ...models.LoggerInfo) models.ToolResponse {
	payload := fmt.Sprintf(`{"count":%d,"loggers":[`, len(devices))
	for i, d := range devices {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"loggerId":%q,"loggerType":%q,"earliestData":%q,"latestData":%q,"recordCount":%d}`,
			d.LoggerID, d.LoggerType, d.EarliestData, d.LatestData, d.RecordCount)
	}
	payload += "]}"
	return models.ToolResponse{Status: models.DataStatusOK, Payload: []byte(payload)}
}
