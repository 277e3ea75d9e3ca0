package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/session"
)

// Pagination bounds for session and message listings.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxListOffset    = 100000
)

// SessionHandler handles session-related HTTP endpoints.
type SessionHandler struct {
	store  *session.Store
	logger log.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
	mux.HandleFunc("DELETE /api/sessions", h.deleteAll)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.messages)
}

// list returns the caller's sessions, most recently active first.
// Query parameters: limit (default 20, max 100), offset.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.List(r.Context(), userIDFromContext(r.Context()), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	}, h.logger)
}

// get returns one session by id.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("failed to get session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, sess, h.logger)
}

// delete removes one session and its messages.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteAll removes every session belonging to the caller.
func (h *SessionHandler) deleteAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteAll(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("failed to delete sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete sessions", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted}, h.logger)
}

// messages lists a window of a session's messages.
// Query parameters: limit (max 500), offset, afterSequence, recent.
func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	query := session.MessageQuery{
		Limit:         parseIntParam(r, "limit", session.DefaultMessageLimit, 1, session.MaxMessageLimit),
		Offset:        parseIntParam(r, "offset", 0, 0, MaxListOffset),
		AfterSequence: parseIntParam(r, "afterSequence", 0, 0, MaxListOffset),
		Recent:        r.URL.Query().Get("recent") == "true",
	}
	// Without an explicit limit, recent keeps its own window size.
	if query.Recent && r.URL.Query().Get("limit") == "" {
		query.Limit = 0
	}

	messages, err := h.store.Messages(r.Context(), id, query)
	if err != nil {
		h.logger.Error("failed to list messages", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	}, h.logger)
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "session id must be a UUID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}
