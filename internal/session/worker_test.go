package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/security"
)

func TestManager_Attach(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	manager := NewManager(h.orch, 8)
	defer manager.Shutdown()
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	w1, err := manager.Attach(ctx, sess.ID)
	require.NoError(t, err)

	// A second connection shares the same worker
	w2, err := manager.Attach(ctx, sess.ID)
	require.NoError(t, err)
	assert.Same(t, w1, w2)

	manager.Detach(w2)
	manager.Detach(w1)

	// Terminal sessions cannot be attached to
	_, err = h.orch.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = manager.Attach(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestWorker_SerializesTurns(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	manager := NewManager(h.orch, 8)
	defer manager.Shutdown()
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	w, err := manager.Attach(ctx, sess.ID)
	require.NoError(t, err)
	defer manager.Detach(w)

	// Concurrent submissions must come out with unique, gapless
	// sequence numbers
	const n = 4
	seqs := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := w.Submit(ctx, "checking on your billing refund")
			if assert.NoError(t, err) {
				seqs <- outcome.Turn.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}

	stored, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, n, stored.TurnCount)
	assert.Equal(t, domain.SessionInProgress, stored.Status)
}

func TestWorker_SubmitAfterShutdown(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	manager := NewManager(h.orch, 8)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	w, err := manager.Attach(ctx, sess.ID)
	require.NoError(t, err)
	manager.Detach(w)

	// The worker is gone; a fresh attach builds a new one
	w2, err := manager.Attach(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotSame(t, w, w2)
	manager.Detach(w2)
}
