package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/domain"
)

// Sweeper abandons sessions that have gone quiet. Runs in the
// background and only ever moves non-terminal sessions forward, so it
// can never fight with the per-session worker over a finished session.
type Sweeper struct {
	sessions    domain.SessionRepository
	idleTimeout time.Duration
	interval    time.Duration
}

// NewSweeper creates an idle-session sweeper
func NewSweeper(sessions domain.SessionRepository, idleTimeout, interval time.Duration) *Sweeper {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{sessions: sessions, idleTimeout: idleTimeout, interval: interval}
}

// Run sweeps until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.idleTimeout)
	idle, err := s.sessions.ListIdleSince(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("idle sweep query failed")
		return
	}

	for i := range idle {
		sess := &idle[i]
		if sess.Status.Terminal() {
			continue
		}
		if err := sess.Transition(domain.SessionAbandoned); err != nil {
			continue
		}
		if err := s.sessions.Update(ctx, sess); err != nil {
			if errors.Is(err, domain.ErrSessionTerminal) {
				// Finished between the listing and the write
				continue
			}
			log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to abandon idle session")
			continue
		}
		log.Info().
			Str("session_id", sess.ID.String()).
			Time("last_activity", sess.LastActivityAt).
			Msg("abandoned idle session")
	}
}
