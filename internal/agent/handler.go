// ABOUTME: HTTP handler streaming loop output to the dashboard as server-sent events.
// ABOUTME: Emits started, delta, done, and error events; tool turns stay server-side.

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxChatBodySize bounds chat request bodies.
const maxChatBodySize = 1 << 20

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// Handler serves the chat endpoint for a Loop.
type Handler struct {
	loop   *Loop
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(loop *Loop, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{loop: loop, logger: logger.With("component", "chat-api")}
}

// RegisterRoutes registers the chat endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodySize)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.writeSSEEvent(w, "started", map[string]int{"max_steps": h.loop.MaxSteps()})
	flusher.Flush()

	result, err := h.loop.Run(r.Context(), req.Message, func(text string) {
		h.writeSSEEvent(w, "delta", map[string]string{"text": text})
		flusher.Flush()
	})

	switch {
	case err == nil:
		h.writeSSEEvent(w, "done", map[string]any{"answer": result.Answer, "steps": result.Steps})
	case errors.Is(err, ErrStepCeiling):
		h.writeSSEEvent(w, "done", map[string]any{"answer": result.Answer, "steps": result.Steps, "truncated": true})
	default:
		h.logger.Warn("chat run failed", "error", err, "steps", result.Steps)
		h.writeSSEEvent(w, "error", map[string]string{"error": "the assistant is unavailable right now"})
	}
	flusher.Flush()
}

// writeSSEEvent writes a named event with a JSON payload.
func (h *Handler) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
// Unavailable answers chat requests when no model provider is configured.
func Unavailable(w http.ResponseWriter, _ *http.Request) {
	sendJSONError(w, http.StatusServiceUnavailable, "agent provider not configured")
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
