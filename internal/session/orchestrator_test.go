package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/evaluation"
	"github.com/chattrain/chattrain/internal/llm"
	"github.com/chattrain/chattrain/internal/retrieval"
	"github.com/chattrain/chattrain/internal/scenario"
	"github.com/chattrain/chattrain/internal/security"
)

const testScenarioYAML = `id: refund-practice
title: Refund practice
instruction: You are playing an upset customer charged twice.
expected_keywords:
  - refund
  - apologize
  - billing
model:
  provider: scripted
  model: scripted-1
  temperature: 0.5
  max_tokens: 100
completion:
  min_exchanges: 5
  required_keywords:
    - refund
    - apologize
`

type harness struct {
	orch     *Orchestrator
	sessions *memSessionRepo
	turns    *memTurnRepo
	provider *scriptedProvider
	limiter  *security.RateLimiter
}

func newHarness(t *testing.T, policy security.RateLimitPolicy, maxLen int) *harness {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refund.yaml"), []byte(testScenarioYAML), 0o644))
	store, err := scenario.Load(dir)
	require.NoError(t, err)

	masker := security.NewMasker(nil)
	validator := security.NewInputValidator(maxLen)
	auditor := security.NewAuditor(zerolog.Nop())
	limiter := security.NewRateLimiter(policy)

	index := retrieval.NewMemoryIndex()
	index.Add("refund-practice", "policy",
		"Refunds are issued within 5 business days after a billing dispute is confirmed.")
	retriever := retrieval.NewRetriever(index, masker, nil, retrieval.DefaultOptions())

	provider := &scriptedProvider{name: "scripted", script: []string{
		"This is unacceptable, I was charged twice!",
		"Okay, and how long will that take?",
		"Fine, I just want my money back.",
	}}
	router := llm.NewRouter("scripted")
	router.RegisterProvider(provider)
	gateway := llm.NewGateway(router, masker, validator, llm.GatewayOptions{
		Timeout:    time.Second,
		MaxRetries: 2,
	})

	sessions := newMemSessionRepo()
	turns := newMemTurnRepo(sessions)

	orch := NewOrchestrator(
		sessions, turns, store,
		limiter, validator, masker, auditor,
		retriever, gateway, evaluation.NewEngine(nil, false),
		DefaultOptions(),
	)

	return &harness{orch: orch, sessions: sessions, turns: turns, provider: provider, limiter: limiter}
}

func TestOrchestrator_RoundTrip(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCreated, sess.Status)

	messages := []string{
		"Hello, I understand your frustration with account AC-123456",
		"I apologize for the inconvenience this has caused",
		"We will issue a refund for the duplicate billing charge",
		"The card 4111-1111-1111-1111 shows two charges, let me investigate",
		"Thanks for your patience, the refund is on its way",
	}

	for i, msg := range messages {
		outcome, err := h.orch.ProcessTurn(ctx, sess, msg)
		require.NoError(t, err, "turn %d", i+1)
		assert.Equal(t, i+1, outcome.Turn.Seq)
		assert.NotEmpty(t, outcome.Turn.ResponseText)
		assert.NotNil(t, outcome.Evaluation)
		assert.False(t, outcome.Fallback)

		if i < len(messages)-1 {
			assert.False(t, outcome.Completed, "turn %d completed early", i+1)
			assert.Equal(t, domain.SessionInProgress, sess.Status)
		} else {
			assert.True(t, outcome.Completed)
			assert.Equal(t, domain.SessionCompleted, sess.Status)
		}
	}

	// Identifier-bearing turns carry redaction records
	history, err := h.turns.ListBySession(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, domain.RedactionAccount, history[0].Redactions[0].Kind)
	assert.Equal(t, domain.RedactionCard, history[3].Redactions[0].Kind)

	// The exported transcript contains zero unmasked identifiers
	for _, turn := range history {
		for _, leak := range []string{"AC-123456", "4111-1111-1111-1111"} {
			assert.NotContains(t, turn.MaskedText, leak)
			assert.NotContains(t, turn.ContextText, leak)
			assert.NotContains(t, turn.ResponseText, leak)
		}
		assert.Empty(t, turn.RawText)
		assert.Empty(t, turn.SanitizedText)
	}

	// The stored session reached the terminal state
	stored, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, stored.Status)
	assert.Equal(t, 5, stored.TurnCount)
	assert.Greater(t, stored.TotalScore, 0)

	// No further turns after completion
	_, err = h.orch.ProcessTurn(ctx, sess, "one more thing")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestOrchestrator_RateLimited(t *testing.T) {
	h := newHarness(t, security.RateLimitPolicy{
		ChatPerMinute:    1,
		SessionPerMinute: 5,
		ConnectPerMinute: 5,
		Burst:            0,
	}, 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	_, err = h.orch.ProcessTurn(ctx, sess, "first message is fine")
	require.NoError(t, err)

	_, err = h.orch.ProcessTurn(ctx, sess, "second message is too fast")
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))

	// Nothing was persisted for the denied turn
	history, _ := h.turns.ListBySession(ctx, sess.ID, 0)
	assert.Len(t, history, 1)
}

func TestOrchestrator_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 30)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	t.Run("over-length", func(t *testing.T) {
		_, err := h.orch.ProcessTurn(ctx, sess, strings.Repeat("a", 31))
		var reject *security.RejectError
		require.ErrorAs(t, err, &reject)
		assert.Equal(t, security.ReasonTooLong, reject.Code)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := h.orch.ProcessTurn(ctx, sess, "   ")
		var reject *security.RejectError
		require.ErrorAs(t, err, &reject)
		assert.Equal(t, security.ReasonEmpty, reject.Code)
	})

	// Rejected turns leave no trace and do not advance the session
	history, _ := h.turns.ListBySession(ctx, sess.ID, 0)
	assert.Empty(t, history)
	assert.Equal(t, 0, sess.TurnCount)
}

func TestOrchestrator_FallbackOnProviderFailure(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	h.provider.err = &llm.ProviderError{Provider: "scripted", Status: 503, Transient: true}

	outcome, err := h.orch.ProcessTurn(ctx, sess, "hello, I can help with your billing issue")
	require.NoError(t, err)
	assert.True(t, outcome.Fallback)
	assert.NotEmpty(t, outcome.Turn.ResponseText)
	assert.Equal(t, domain.SessionInProgress, sess.Status)

	// The fallback turn is still recorded and evaluated
	history, _ := h.turns.ListBySession(ctx, sess.ID, 0)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].Evaluation)

	// Recovery on the next turn
	h.provider.err = nil
	outcome, err = h.orch.ProcessTurn(ctx, sess, "are you still there?")
	require.NoError(t, err)
	assert.False(t, outcome.Fallback)
}

func TestOrchestrator_PersistRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure recovers", func(t *testing.T) {
		h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
		sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
		require.NoError(t, err)

		h.turns.failures = 1
		outcome, err := h.orch.ProcessTurn(ctx, sess, "hello there, checking your billing")
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Turn.Seq)
	})

	t.Run("exhaustion errors the session", func(t *testing.T) {
		h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
		sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
		require.NoError(t, err)

		h.turns.failures = 100
		_, err = h.orch.ProcessTurn(ctx, sess, "hello there, checking your billing")
		require.ErrorIs(t, err, ErrPersistFailed)

		stored, err := h.sessions.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionErrored, stored.Status)
	})
}

func TestOrchestrator_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown scenario", func(t *testing.T) {
		h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
		_, err := h.orch.CreateSession(ctx, "trainee-1", "no-such-scenario")
		assert.Error(t, err)
	})

	t.Run("limits are per user", func(t *testing.T) {
		h := newHarness(t, security.RateLimitPolicy{
			ChatPerMinute:    20,
			SessionPerMinute: 1,
			ConnectPerMinute: 10,
			Burst:            0,
		}, 2000)

		// 5 distinct users within the same second all succeed
		for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
			_, err := h.orch.CreateSession(ctx, user, "refund-practice")
			assert.NoError(t, err, "user %s", user)
		}

		// The same user creating a second session immediately is denied
		_, err := h.orch.CreateSession(ctx, "u1", "refund-practice")
		var limited *RateLimitedError
		assert.ErrorAs(t, err, &limited)
	})
}

func TestOrchestrator_EndSession(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)

	// An explicit end is a completion; abandoned is the timeout's state
	ended, err := h.orch.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, ended.Status)
	assert.NotNil(t, ended.CompletedAt)

	// Ending twice is a no-op, not an error
	again, err := h.orch.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, again.Status)
}

func TestOrchestrator_RejectsSweptSession(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)
	_, err = h.orch.ProcessTurn(ctx, sess, "Hello, I understand your frustration")
	require.NoError(t, err)

	// The idle sweeper closes the session directly in the store; the
	// worker still holds its in_progress snapshot.
	stored, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(domain.SessionAbandoned))
	require.NoError(t, h.sessions.Update(ctx, stored))

	_, err = h.orch.ProcessTurn(ctx, sess, "are you still there?")
	assert.ErrorIs(t, err, ErrSessionClosed)

	// The stored terminal state wins and the extra turn leaves no trace
	after, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAbandoned, after.Status)
	assert.Equal(t, 1, after.TurnCount)

	turns, err := h.turns.ListBySession(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestOrchestrator_PersistRefusesClosedSession(t *testing.T) {
	h := newHarness(t, security.DefaultRateLimitPolicy(), 2000)
	ctx := context.Background()

	sess, err := h.orch.CreateSession(ctx, "trainee-1", "refund-practice")
	require.NoError(t, err)
	_, err = h.orch.ProcessTurn(ctx, sess, "Hello, I understand your frustration")
	require.NoError(t, err)

	// Session closes between the turn-start check and the write
	stored, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(domain.SessionAbandoned))
	require.NoError(t, h.sessions.Update(ctx, stored))

	stale := *sess
	turn := &domain.Turn{ID: uuid.New(), SessionID: sess.ID, Seq: stale.TurnCount + 1, MaskedText: "late reply"}
	stale.TurnCount++

	err = h.orch.persistWithRetry(ctx, turn, &stale)
	assert.ErrorIs(t, err, ErrSessionClosed)

	after, err := h.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAbandoned, after.Status, "terminal status must not be overwritten")
	assert.Equal(t, 1, after.TurnCount)
}

func TestRunningAverage(t *testing.T) {
	assert.Equal(t, 80, runningAverage(0, 1, 80))
	assert.Equal(t, 85, runningAverage(80, 2, 90))
	assert.Equal(t, 80, runningAverage(80, 3, 80))
}
