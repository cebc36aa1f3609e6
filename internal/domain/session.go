package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a training session
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
	SessionErrored    SessionStatus = "errored"
)

// Terminal reports whether no further transitions are permitted
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned || s == SessionErrored
}

// ErrInvalidTransition is returned when a transition would leave a
// terminal state or skip the lifecycle order.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ErrSessionTerminal is returned by stores when a write would touch a
// session that already reached a terminal state. Terminal sessions are
// immutable; a stale caller must not resurrect them.
var ErrSessionTerminal = errors.New("session already terminal")

// Session represents one trainee run of one scenario
type Session struct {
	ID             uuid.UUID     `json:"id"`
	ScenarioID     string        `json:"scenario_id"`
	UserID         string        `json:"user_id"`
	Status         SessionStatus `json:"status"`
	TurnCount      int           `json:"turn_count"`
	TotalScore     int           `json:"total_score"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Transition moves the session to the target status. Transitions are
// one-directional; no state is re-enterable.
func (s *Session) Transition(to SessionStatus) error {
	if s.Status.Terminal() {
		return ErrInvalidTransition
	}
	switch to {
	case SessionInProgress:
		if s.Status != SessionCreated && s.Status != SessionInProgress {
			return ErrInvalidTransition
		}
	case SessionCompleted, SessionAbandoned, SessionErrored:
		// any non-terminal state may end
	default:
		return ErrInvalidTransition
	}
	s.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
	return nil
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Session, error)
	ListIdleSince(ctx context.Context, cutoff time.Time) ([]Session, error)
	Update(ctx context.Context, session *Session) error
}
