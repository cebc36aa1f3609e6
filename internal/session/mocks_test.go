package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/llm"
)

// memSessionRepo is an in-memory SessionRepository for pipeline tests
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	out := s
	return &out, nil
}

func (r *memSessionRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) ListIdleSince(_ context.Context, cutoff time.Time) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.LastActivityAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return errors.New("session not found")
	}
	if cur.Status.Terminal() {
		return domain.ErrSessionTerminal
	}
	r.sessions[s.ID] = *s
	return nil
}

// memTurnRepo is an in-memory TurnRepository. SaveWithSession mimics the
// transactional contract by writing turn and session together, and can
// be told to fail a number of times.
type memTurnRepo struct {
	mu       sync.Mutex
	turns    map[uuid.UUID][]domain.Turn
	sessions *memSessionRepo
	failures int
}

func newMemTurnRepo(sessions *memSessionRepo) *memTurnRepo {
	return &memTurnRepo{turns: make(map[uuid.UUID][]domain.Turn), sessions: sessions}
}

func (r *memTurnRepo) SaveWithSession(ctx context.Context, turn *domain.Turn, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("storage unavailable")
	}
	// Same compare-and-set contract as the real store: a session that
	// reached a terminal state cannot be written back to life.
	cur, err := r.sessions.Get(ctx, session.ID)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return domain.ErrSessionTerminal
	}
	stored := *turn
	stored.RawText = ""
	stored.SanitizedText = ""
	r.turns[turn.SessionID] = append(r.turns[turn.SessionID], stored)
	return r.sessions.Update(ctx, session)
}

func (r *memTurnRepo) ListBySession(_ context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := r.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// scriptedProvider plays the scenario model. Replies rotate through the
// script; err, when set, fails every call.
type scriptedProvider struct {
	mu      sync.Mutex
	name    string
	script  []string
	calls   int
	err     error
}

func (p *scriptedProvider) Name() string         { return p.name }
func (p *scriptedProvider) DefaultModel() string { return "scripted-1" }
func (p *scriptedProvider) IsConfigured() bool   { return true }

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		p.calls++
		return nil, p.err
	}
	reply := "I see, tell me more."
	if len(p.script) > 0 {
		reply = p.script[p.calls%len(p.script)]
	}
	p.calls++
	return &llm.Response{Content: reply, Model: req.Model}, nil
}
