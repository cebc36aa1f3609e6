package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/api/middleware"
	"github.com/chattrain/chattrain/internal/api/response"
	"github.com/chattrain/chattrain/internal/security"
	"github.com/chattrain/chattrain/internal/session"
)

// Envelope is the wire frame for both directions of the chat socket
type Envelope struct {
	Type     string         `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const (
	TypeUserMessage        = "user_message"
	TypeAssistantMessage   = "assistant_message"
	TypeTypingIndicator    = "typing_indicator"
	TypeEvaluationFeedback = "evaluation_feedback"
	TypeSessionCompleted   = "session_completed"
	TypeError              = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// WSHandler upgrades chat connections and bridges envelopes to the
// session worker.
type WSHandler struct {
	manager  *session.Manager
	limiter  *security.RateLimiter
	maxFrame int64
}

// NewWSHandler creates the websocket chat handler
func NewWSHandler(manager *session.Manager, limiter *security.RateLimiter, maxMessageLength int) *WSHandler {
	if maxMessageLength <= 0 {
		maxMessageLength = 2000
	}
	return &WSHandler{
		manager: manager,
		limiter: limiter,
		// UTF-8 worst case plus envelope framing overhead
		maxFrame: int64(maxMessageLength)*4 + 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the fronting gateway
		return true
	},
}

// conn serializes writes; the ping loop and the read loop both write
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(env)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Serve attaches the connection to its session worker and runs the
// message loop until the client disconnects or the session ends.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.ErrorBody{Code: "missing_identity", Message: "user not identified"})
		return
	}

	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	if decision := h.limiter.Admit(userID, security.ClassConnect); !decision.Allowed {
		response.TooManyRequests(w, response.ErrorBody{
			Code:       "rate_limited",
			Message:    "too many connection attempts",
			RetryAfter: int(decision.RetryAfter.Seconds()) + 1,
		})
		return
	}

	worker, err := h.manager.Attach(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			response.Conflict(w, response.ErrorBody{Code: "session_closed", Message: "session is closed"})
		} else {
			response.NotFound(w, response.ErrorBody{Code: "unknown_session", Message: "session not found"})
		}
		return
	}
	defer h.manager.Detach(worker)

	if worker.Session().UserID != userID {
		response.Error(w, http.StatusForbidden, response.ErrorBody{Code: "forbidden", Message: "not your session"})
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	ws.SetReadLimit(h.maxFrame)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(c, stop)

	h.readLoop(r.Context(), c, worker)
}

func (h *WSHandler) pingLoop(c *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, c *conn, worker *session.Worker) {
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		if env.Type != TypeUserMessage {
			c.send(Envelope{Type: TypeError, Metadata: map[string]any{
				"code":    "invalid_request",
				"message": "unsupported message type",
			}})
			continue
		}

		c.send(Envelope{Type: TypeTypingIndicator})

		outcome, err := worker.Submit(ctx, env.Content)
		if err != nil {
			h.sendError(c, err)
			if errors.Is(err, session.ErrSessionClosed) {
				return
			}
			continue
		}

		c.send(Envelope{
			Type:    TypeAssistantMessage,
			Content: outcome.Turn.ResponseText,
			Metadata: map[string]any{
				"seq":      outcome.Turn.Seq,
				"fallback": outcome.Fallback,
			},
		})

		c.send(Envelope{Type: TypeEvaluationFeedback, Metadata: map[string]any{
			"evaluation": outcome.Evaluation,
		}})

		if outcome.Completed {
			c.send(Envelope{Type: TypeSessionCompleted, Metadata: map[string]any{
				"turn_count":  outcome.Session.TurnCount,
				"total_score": outcome.Session.TotalScore,
			}})
			return
		}
	}
}

func (h *WSHandler) sendError(c *conn, err error) {
	meta := map[string]any{"code": "internal_error", "message": "something went wrong"}

	var limited *session.RateLimitedError
	var reject *security.RejectError
	switch {
	case errors.As(err, &limited):
		meta["code"] = "rate_limited"
		meta["message"] = "sending too fast, slow down"
		meta["retry_after_seconds"] = int(limited.RetryAfter.Seconds()) + 1
	case errors.As(err, &reject):
		meta["code"] = reject.Code
		meta["message"] = reject.Message
	case errors.Is(err, session.ErrQueueFull):
		meta["code"] = "rate_limited"
		meta["message"] = "previous messages still processing"
		meta["retry_after_seconds"] = 1
	case errors.Is(err, session.ErrSessionClosed):
		meta["code"] = "session_closed"
		meta["message"] = "session is closed"
	}

	c.send(Envelope{Type: TypeError, Metadata: meta})
}
