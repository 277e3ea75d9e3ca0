package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fieldops/assistant/internal/agent"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/sse"
)

const maxRequestBody = 10 << 20 // attachments arrive inline as base64

// AssistantHandler handles the assistant turn endpoints, streaming and
// non-streaming.
type AssistantHandler struct {
	agent  *agent.Agent
	logger log.Logger
}

// NewAssistantHandler creates a new assistant handler.
func NewAssistantHandler(a *agent.Agent, logger log.Logger) *AssistantHandler {
	return &AssistantHandler{agent: a, logger: logger}
}

// RegisterRoutes registers assistant routes on the given mux.
func (h *AssistantHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/assistant/stream", h.stream)
	mux.HandleFunc("POST /api/assistant", h.respond)
}

func (h *AssistantHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (agent.Request, bool) {
	var req agent.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return agent.Request{}, false
	}
	req.UserID = userIDFromContext(r.Context())
	return req, true
}

// stream runs one assistant turn over SSE.
func (h *AssistantHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming", h.logger)
		return
	}

	ctx := r.Context()
	if err := h.agent.Respond(ctx, req, func(event sse.Event) error {
		return writer.Send(ctx, event)
	}); err != nil {
		h.logger.Error("assistant turn failed", "error", err, "request_id", requestIDFromContext(ctx))
		if writeErr := writer.SendError(publicError(err)); writeErr != nil {
			h.logger.Debug("failed to send error frame", "error", writeErr)
		}
	}
}

// TurnResponse is the non-streaming response shape. It carries the same
// information the SSE stream does, collapsed into one document.
type TurnResponse struct {
	Response             string                     `json:"response"`
	SessionID            string                     `json:"sessionId"`
	Model                string                     `json:"model,omitempty"`
	EntityMemory         any                        `json:"entityMemory"`
	Usage                sse.Usage                  `json:"usage"`
	ContextStats         sse.ContextStats           `json:"contextStats"`
	AwaitingConfirmation bool                       `json:"awaitingConfirmation,omitempty"`
	ToolConfirmation     *sse.ToolConfirmationEvent `json:"toolConfirmation,omitempty"`
	ToolResults          []sse.ToolEndEvent         `json:"toolResults,omitempty"`
}

// respond runs one assistant turn and returns the collected outcome as a
// single JSON document.
func (h *AssistantHandler) respond(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	var resp TurnResponse
	var text strings.Builder

	err := h.agent.Respond(r.Context(), req, func(event sse.Event) error {
		switch e := event.(type) {
		case sse.SessionEvent:
			resp.SessionID = e.SessionID
		case sse.ModelEvent:
			resp.Model = e.Model
		case sse.TextEvent:
			text.WriteString(e.Content)
		case sse.ToolEndEvent:
			resp.ToolResults = append(resp.ToolResults, e)
		case sse.ToolConfirmationEvent:
			resp.ToolConfirmation = &e
		case sse.DoneEvent:
			resp.EntityMemory = e.EntityMemory
			resp.Usage = e.Usage
			resp.ContextStats = e.ContextStats
			resp.AwaitingConfirmation = e.AwaitingConfirmation
		}
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrEmptyQuery) {
			status = http.StatusBadRequest
		} else if errors.Is(err, agent.ErrUpstream) {
			status = http.StatusBadGateway
		}
		h.logger.Error("assistant turn failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, status, "turn_failed", publicError(err), h.logger)
		return
	}

	resp.Response = text.String()
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// publicError maps internal errors to client-safe messages.
func publicError(err error) string {
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		return "query must not be empty"
	case errors.Is(err, agent.ErrUpstream):
		return "upstream model error"
	default:
		return "assistant turn failed"
	}
}
