// Package genai wraps the OpenAI API behind a small interface the
// orchestrator can mock. It is a thin gateway: prompt in, raw text out, with
// no routing logic of its own.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// FunctionCall carries the name and raw JSON arguments of one tool call.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCall is a single tool invocation the model decided to make.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is the result of a completion that may include tool calls.
// Content is empty when the model chose to call tools instead of answering.
type ToolCallResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ClientInterface is the contract the orchestrator depends on. Tests supply
// deterministic mocks; production uses Client.
type ClientInterface interface {
	// GeneratePromptWithContext generates a response from a system and user
	// prompt pair, honoring ctx cancellation.
	GeneratePromptWithContext(ctx context.Context, system, user string) (string, error)

	// StreamWithTools streams a completion that may include tool calls,
	// invoking onDelta for each token fragment of the assistant text.
	StreamWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, onDelta func(string)) (*ToolCallResponse, error)
}

// Client implements ClientInterface against the OpenAI chat completions API.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient initializes a client from the OPENAI_API_KEY environment variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return NewClientWithConfig(apiKey, string(openai.ChatModelGPT4oMini)), nil
}

// NewClientWithConfig initializes a client with an explicit key and model.
func NewClientWithConfig(apiKey, model string) *Client {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	slog.Debug("genai.NewClientWithConfig: creating client", "model", model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModel(model),
	}
}

// GeneratePromptWithContext generates a response honoring context cancellation.
func (c *Client) GeneratePromptWithContext(ctx context.Context, system, user string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}
	return c.GenerateWithMessages(ctx, messages)
}

// GenerateWithMessages generates a response over a full message list.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamWithTools streams a completion token by token. Text fragments are
// forwarded through onDelta as they arrive; tool calls are accumulated across
// chunks and returned whole, since a partial call is never actionable.
func (c *Client) StreamWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, onDelta func(string)) (*ToolCallResponse, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" && onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("genai.StreamWithTools: stream failed", "error", err)
		return nil, fmt.Errorf("streaming completion failed: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	choice := acc.Choices[0].Message
	out := &ToolCallResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("genai.StreamWithTools: stream finished", "toolCalls", len(out.ToolCalls), "contentLength", len(out.Content))
	return out, nil
}
