package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chattrain/chattrain/internal/api/middleware"
	"github.com/chattrain/chattrain/internal/api/response"
	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/session"
)

// SessionHandler serves the session REST surface
type SessionHandler struct {
	orch *session.Orchestrator
}

// NewSessionHandler creates a session handler
func NewSessionHandler(orch *session.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

// Create starts a new session for the requesting trainee
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.ErrorBody{Code: "missing_identity", Message: "user not identified"})
		return
	}

	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScenarioID == "" {
		response.BadRequest(w, response.ErrorBody{Code: "invalid_request", Message: "scenario_id is required"})
		return
	}

	sess, err := h.orch.CreateSession(r.Context(), userID, req.ScenarioID)
	if err != nil {
		var limited *session.RateLimitedError
		switch {
		case errors.As(err, &limited):
			response.TooManyRequests(w, response.ErrorBody{
				Code:       "rate_limited",
				Message:    "too many sessions, slow down",
				RetryAfter: retrySeconds(limited),
			})
		case strings.Contains(err.Error(), "unknown scenario"):
			response.NotFound(w, response.ErrorBody{Code: "unknown_scenario", Message: err.Error()})
		default:
			response.InternalError(w, response.ErrorBody{Code: "internal_error", Message: "failed to create session"})
		}
		return
	}

	response.Created(w, sess)
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownSession(w, r)
	if !ok {
		return
	}
	response.OK(w, sess)
}

// List returns the trainee's sessions, newest first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.ErrorBody{Code: "missing_identity", Message: "user not identified"})
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	sessions, err := h.orch.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w, response.ErrorBody{Code: "internal_error", Message: "failed to list sessions"})
		return
	}
	response.OK(w, sessions)
}

// History exports a session transcript. Turns come back in masked form
// only; the raw trainee text was never stored to begin with.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownSession(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	turns, err := h.orch.History(r.Context(), sess.ID, limit)
	if err != nil {
		response.InternalError(w, response.ErrorBody{Code: "internal_error", Message: "failed to fetch history"})
		return
	}
	response.OK(w, turns)
}

// End closes a session at the trainee's request
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownSession(w, r)
	if !ok {
		return
	}

	ended, err := h.orch.EndSession(r.Context(), sess.ID)
	if err != nil {
		response.InternalError(w, response.ErrorBody{Code: "internal_error", Message: "failed to end session"})
		return
	}
	response.OK(w, ended)
}

// ownSession loads the addressed session and confirms it belongs to the
// requesting trainee. Writes the error response itself on failure.
func (h *SessionHandler) ownSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.ErrorBody{Code: "missing_identity", Message: "user not identified"})
		return nil, false
	}
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return nil, false
	}
	sess, err := h.orch.GetSession(r.Context(), sessionID)
	if err != nil {
		response.NotFound(w, response.ErrorBody{Code: "unknown_session", Message: "session not found"})
		return nil, false
	}
	if sess.UserID != userID {
		response.Error(w, http.StatusForbidden, response.ErrorBody{Code: "forbidden", Message: "not your session"})
		return nil, false
	}
	return sess, true
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, response.ErrorBody{Code: "invalid_request", Message: "invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}

func retrySeconds(e *session.RateLimitedError) int {
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
