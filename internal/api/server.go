package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/solarlytics/analyst/internal/models"
)

// Orchestrator is the engine contract the server depends on.
type Orchestrator interface {
	ProcessTurn(ctx context.Context, conversationID string, history []models.Message, emit func(models.StreamEvent)) (*models.ConversationState, error)
}

// Server hosts the chat API.
type Server struct {
	addr   string
	engine Orchestrator
	srv    *http.Server
}

// NewServer creates a server bound to addr.
func NewServer(addr string, engine Orchestrator) *Server {
	return &Server{addr: addr, engine: engine}
}

// Run starts serving and blocks until the listener fails or Stop is called.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/api/health", s.healthHandler)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "solar-analyst"}))
}

// ChatRequest is the turn input: the conversation id (assigned when empty)
// and the client-held message history, latest user message last.
type ChatRequest struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
}

// chatHandler runs one conversation turn and streams events as SSE. Each
// event is one `data:` line carrying a JSON-encoded StreamEvent; a terminal
// `done` event carries the resulting state snapshot (messages excluded).
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("Server.chatHandler: response writer does not support streaming")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Conversation-Id", req.ConversationID)
	w.WriteHeader(http.StatusOK)

	emit := func(ev models.StreamEvent) {
		writeSSE(w, flusher, ev)
	}

	st, err := s.engine.ProcessTurn(r.Context(), req.ConversationID, req.Messages, emit)
	if err != nil {
		slog.Error("Server.chatHandler: turn failed", "error", err, "conversationID", req.ConversationID)
		writeSSERaw(w, flusher, "error", models.Error("Turn processing failed"))
		return
	}

	writeSSERaw(w, flusher, "done", turnResult{
		ConversationID:   st.ConversationID,
		ActiveWorkflow:   st.ActiveWorkflow,
		PendingUiActions: st.PendingUiActions,
		NewMessages:      st.Messages[len(req.Messages):],
	})
	slog.Info("Server.chatHandler: turn completed",
		"conversationID", req.ConversationID, "workflow", st.ActiveWorkflow, "actions", len(st.PendingUiActions))
}

// turnResult is the terminal SSE payload: what the client must append to its
// held history plus the queued interactive actions.
type turnResult struct {
	ConversationID   string                   `json:"conversationId"`
	ActiveWorkflow   models.Workflow          `json:"activeWorkflow,omitempty"`
	PendingUiActions []models.PendingUiAction `json:"pendingUiActions,omitempty"`
	NewMessages      []models.Message         `json:"newMessages,omitempty"`
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev models.StreamEvent) {
	writeSSERaw(w, flusher, string(ev.Type), ev)
}

func writeSSERaw(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeSSERaw: failed to marshal event", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		slog.Debug("Server.writeSSERaw: client went away", "error", err)
		return
	}
	flusher.Flush()
}
