package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/domain"
)

// ErrQueueFull is returned when a session's inbound queue is saturated.
// The trainee is typing faster than turns can be processed; the message
// is dropped with a retry hint rather than buffered without bound.
var ErrQueueFull = errors.New("session queue full")

type request struct {
	ctx    context.Context
	text   string
	result chan result
}

type result struct {
	outcome *TurnOutcome
	err     error
}

// Worker serializes turn processing for one session. All messages from
// all connections to the same session funnel through one goroutine, so
// turn sequence numbers and session state never race.
type Worker struct {
	sessionID uuid.UUID
	sess      *domain.Session
	orch      *Orchestrator
	queue     chan request

	mu   sync.Mutex
	refs int
	done chan struct{}
}

// Submit enqueues one trainee message and waits for the pipeline result
func (w *Worker) Submit(ctx context.Context, text string) (*TurnOutcome, error) {
	req := request{ctx: ctx, text: text, result: make(chan result, 1)}
	select {
	case w.queue <- req:
	default:
		return nil, ErrQueueFull
	}

	select {
	case res := <-req.result:
		return res.outcome, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Session returns the worker's in-memory session snapshot
func (w *Worker) Session() *domain.Session {
	return w.sess
}

func (w *Worker) run() {
	for {
		select {
		case req := <-w.queue:
			outcome, err := w.orch.ProcessTurn(req.ctx, w.sess, req.text)
			req.result <- result{outcome: outcome, err: err}
		case <-w.done:
			// Drain pending requests so no submitter blocks forever
			for {
				select {
				case req := <-w.queue:
					req.result <- result{err: ErrSessionClosed}
				default:
					return
				}
			}
		}
	}
}

// Manager hands out one worker per live session and retires it when the
// last connection detaches.
type Manager struct {
	orch      *Orchestrator
	queueSize int

	mu      sync.Mutex
	workers map[uuid.UUID]*Worker
}

// NewManager creates a worker manager
func NewManager(orch *Orchestrator, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 8
	}
	return &Manager{
		orch:      orch,
		queueSize: queueSize,
		workers:   make(map[uuid.UUID]*Worker),
	}
}

// Attach returns the worker for a session, loading the session and
// starting the goroutine on first attach. Terminal sessions cannot be
// attached to.
func (m *Manager) Attach(ctx context.Context, sessionID uuid.UUID) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[sessionID]; ok {
		w.mu.Lock()
		w.refs++
		w.mu.Unlock()
		return w, nil
	}

	sess, err := m.orch.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}

	w := &Worker{
		sessionID: sessionID,
		sess:      sess,
		orch:      m.orch,
		queue:     make(chan request, m.queueSize),
		refs:      1,
		done:      make(chan struct{}),
	}
	m.workers[sessionID] = w
	go w.run()

	log.Debug().Str("session_id", sessionID.String()).Msg("session worker started")
	return w, nil
}

// Detach releases one reference; the last detach stops the worker
func (m *Manager) Detach(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.mu.Lock()
	w.refs--
	last := w.refs <= 0
	w.mu.Unlock()

	if last {
		delete(m.workers, w.sessionID)
		close(w.done)
		log.Debug().Str("session_id", w.sessionID.String()).Msg("session worker stopped")
	}
}

// Shutdown stops every live worker
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.workers {
		close(w.done)
		delete(m.workers, id)
	}
}
