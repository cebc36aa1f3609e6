package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/evaluation"
	"github.com/chattrain/chattrain/internal/llm"
	"github.com/chattrain/chattrain/internal/metrics"
	"github.com/chattrain/chattrain/internal/retrieval"
	"github.com/chattrain/chattrain/internal/scenario"
	"github.com/chattrain/chattrain/internal/security"
)

var (
	// ErrSessionClosed is returned when a turn arrives for a session
	// already in a terminal state.
	ErrSessionClosed = errors.New("session is closed")

	// ErrPersistFailed means the turn could not be stored after retries;
	// the session has been moved to errored.
	ErrPersistFailed = errors.New("failed to persist turn")
)

// RateLimitedError carries the wait hint for a denied admission check
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// fallbackReply keeps the session alive when the provider cannot answer
const fallbackReply = "I'm sorry, I'm having trouble responding right now. Could you say that again in a moment?"

// Options bound the orchestrator's persistence behaviour
type Options struct {
	PersistRetry int
}

// DefaultOptions returns the documented orchestration defaults
func DefaultOptions() Options {
	return Options{PersistRetry: 3}
}

// TurnOutcome is everything a transport needs to answer one trainee
// message: the assistant reply, the evaluation feedback, and whether the
// session just reached a terminal state.
type TurnOutcome struct {
	Turn       *domain.Turn
	Session    *domain.Session
	Evaluation *domain.EvaluationResult
	Fallback   bool
	Completed  bool
}

// Orchestrator owns the per-turn pipeline and the session state machine.
// Stages run in strict order; a failure in any stage stops the turn
// before anything later can observe unvetted text.
type Orchestrator struct {
	sessions  domain.SessionRepository
	turns     domain.TurnRepository
	scenarios *scenario.Store
	limiter   *security.RateLimiter
	validator *security.InputValidator
	masker    *security.Masker
	auditor   *security.Auditor
	retriever *retrieval.Retriever
	gateway   *llm.Gateway
	evaluator *evaluation.Engine
	opts      Options
}

// NewOrchestrator wires the pipeline stages together
func NewOrchestrator(
	sessions domain.SessionRepository,
	turns domain.TurnRepository,
	scenarios *scenario.Store,
	limiter *security.RateLimiter,
	validator *security.InputValidator,
	masker *security.Masker,
	auditor *security.Auditor,
	retriever *retrieval.Retriever,
	gateway *llm.Gateway,
	evaluator *evaluation.Engine,
	opts Options,
) *Orchestrator {
	if opts.PersistRetry <= 0 {
		opts.PersistRetry = 3
	}
	return &Orchestrator{
		sessions:  sessions,
		turns:     turns,
		scenarios: scenarios,
		limiter:   limiter,
		validator: validator,
		masker:    masker,
		auditor:   auditor,
		retriever: retriever,
		gateway:   gateway,
		evaluator: evaluator,
		opts:      opts,
	}
}

// CreateSession admits and persists a new session in the created state
func (o *Orchestrator) CreateSession(ctx context.Context, userID, scenarioID string) (*domain.Session, error) {
	if decision := o.limiter.Admit(userID, security.ClassSessionCreate); !decision.Allowed {
		metrics.RateLimitDenials.WithLabelValues(string(security.ClassSessionCreate)).Inc()
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	if _, err := o.scenarios.Get(scenarioID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:             uuid.New(),
		ScenarioID:     scenarioID,
		UserID:         userID,
		Status:         domain.SessionCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("scenario_id", scenarioID).
		Str("user_id", userID).
		Msg("session created")
	return sess, nil
}

// GetSession loads a session by id
func (o *Orchestrator) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return o.sessions.Get(ctx, id)
}

// ListSessions returns a user's sessions, newest first
func (o *Orchestrator) ListSessions(ctx context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	return o.sessions.ListByUser(ctx, userID, limit, offset)
}

// History returns the persisted turns of a session in order
func (o *Orchestrator) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error) {
	return o.turns.ListBySession(ctx, sessionID, limit)
}

// EndSession closes a session at the trainee's request. An explicit end
// counts as completion; abandoned is reserved for the inactivity
// timeout. Already-terminal sessions are left untouched.
func (o *Orchestrator) EndSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if err := sess.Transition(domain.SessionCompleted); err != nil {
		return nil, err
	}
	sess.LastActivityAt = time.Now().UTC()
	if err := o.sessions.Update(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrSessionTerminal) {
			// Closed concurrently (e.g. by the idle sweeper); the stored
			// state stands and ending stays idempotent.
			return o.sessions.Get(ctx, id)
		}
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	return sess, nil
}

// ProcessTurn runs one trainee message through the full pipeline and
// persists the result. The caller must serialize invocations per
// session; the worker takes care of that.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sess *domain.Session, rawText string) (*TurnOutcome, error) {
	started := time.Now()

	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}

	if decision := o.limiter.Admit(sess.UserID, security.ClassChatMessage); !decision.Allowed {
		metrics.RateLimitDenials.WithLabelValues(string(security.ClassChatMessage)).Inc()
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	// The worker's snapshot can go stale: the idle sweeper closes quiet
	// sessions directly in the store. The stored status is authoritative.
	stored, err := o.sessions.Get(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if stored.Status.Terminal() {
		*sess = *stored
		return nil, ErrSessionClosed
	}

	scen, err := o.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, err
	}

	turn := &domain.Turn{
		ID:        uuid.New(),
		SessionID: sess.ID,
		Seq:       sess.TurnCount + 1,
		RawText:   rawText,
		CreatedAt: started.UTC(),
	}

	// Validation
	res, err := o.validator.Validate(rawText)
	if err != nil {
		var reject *security.RejectError
		if errors.As(err, &reject) {
			metrics.SecurityRejections.WithLabelValues(reject.Code).Inc()
			o.auditor.Rejection(sess.ID, sess.UserID, nil)
		}
		metrics.TurnsProcessed.WithLabelValues("rejected").Inc()
		return nil, err
	}
	o.auditor.Filtered(sess.ID, res.Findings)
	turn.SanitizedText = res.Sanitized
	turn.Stages.Validated = time.Now().UTC()

	// Masking. A verification failure means the turn must be discarded;
	// nothing downstream may see the text.
	masked, redactions, err := o.masker.Mask(res.Sanitized)
	if err != nil {
		var integrity *security.IntegrityError
		if errors.As(err, &integrity) {
			o.auditor.MaskingAlarm(sess.ID, integrity.Kinds)
			metrics.MaskingAlarms.Inc()
		}
		metrics.TurnsProcessed.WithLabelValues("rejected").Inc()
		return nil, &security.RejectError{Code: security.ReasonRejected, Message: "message rejected"}
	}
	turn.MaskedText = masked
	turn.Redactions = redactions
	turn.Stages.Masked = time.Now().UTC()

	if sess.Status == domain.SessionCreated {
		if err := sess.Transition(domain.SessionInProgress); err != nil {
			return nil, err
		}
	}

	// Full transcript: the completion check needs every matched keyword,
	// and the prompt builder trims to the trailing window itself.
	history, err := o.turns.ListBySession(ctx, sess.ID, 0)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to load history, continuing without")
		history = nil
	}

	// Retrieval failures degrade to an empty context
	contextText, err := o.retriever.Retrieve(ctx, masked, sess.ScenarioID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("retrieval failed, continuing without context")
		contextText = ""
	}
	turn.ContextText = contextText
	turn.Stages.Retrieved = time.Now().UTC()

	// Generation. Provider trouble must not kill the session; the
	// trainee gets a fallback line and the turn is still recorded.
	fallback := false
	reply, err := o.gateway.Generate(ctx, llm.GenerateInput{
		Instruction: scen.Instruction,
		Context:     contextText,
		History:     historyMessages(history),
		UserText:    masked,
		Params:      scen.Model,
	})
	switch {
	case err == nil:
		turn.ResponseText = reply.Text
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("model generation failed, using fallback reply")
		turn.ResponseText = fallbackReply
		fallback = true
	}
	turn.Stages.Generated = time.Now().UTC()

	// Evaluation runs on the sanitized trainee text, before masking, so
	// keyword credit is not lost to placeholders.
	eval := o.evaluator.Evaluate(ctx, res.Sanitized, scen)
	turn.Evaluation = &eval
	turn.Stages.Evaluated = time.Now().UTC()

	// Session bookkeeping: turn count, running average score, completion
	sess.TurnCount++
	sess.TotalScore = runningAverage(sess.TotalScore, sess.TurnCount, eval.Score)
	sess.LastActivityAt = time.Now().UTC()

	completed := false
	if o.completionSatisfied(sess, scen, history, &eval) {
		if err := sess.Transition(domain.SessionCompleted); err == nil {
			completed = true
		}
	}

	if err := o.persistWithRetry(ctx, turn, sess); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			metrics.TurnsProcessed.WithLabelValues("closed").Inc()
		} else {
			metrics.TurnsProcessed.WithLabelValues("persist_failed").Inc()
		}
		return nil, err
	}

	outcome := "ok"
	if fallback {
		outcome = "fallback"
	}
	metrics.TurnsProcessed.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(time.Since(started).Seconds())

	return &TurnOutcome{
		Turn:       turn,
		Session:    sess,
		Evaluation: &eval,
		Fallback:   fallback,
		Completed:  completed,
	}, nil
}

// completionSatisfied checks the scenario's completion rule: enough
// exchanges, and every required keyword matched at least once across
// the session.
func (o *Orchestrator) completionSatisfied(sess *domain.Session, scen *domain.ScenarioConfig, history []domain.Turn, current *domain.EvaluationResult) bool {
	if sess.TurnCount < scen.Completion.MinExchanges {
		return false
	}

	covered := make(map[string]bool)
	for _, t := range history {
		if t.Evaluation == nil {
			continue
		}
		for _, kw := range t.Evaluation.Matched {
			covered[kw] = true
		}
	}
	for _, kw := range current.Matched {
		covered[kw] = true
	}

	for _, kw := range scen.Completion.RequiredKeywords {
		if !covered[kw] {
			return false
		}
	}
	return true
}

// persistWithRetry stores the turn and session atomically. Exhausting
// the retries moves the session to errored; a turn the trainee saw but
// the record lost is worse than a closed session.
func (o *Orchestrator) persistWithRetry(ctx context.Context, turn *domain.Turn, sess *domain.Session) error {
	backoff := 100 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= o.opts.PersistRetry; attempt++ {
		if lastErr = o.turns.SaveWithSession(ctx, turn, sess); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, domain.ErrSessionTerminal) {
			// The store closed the session underneath us. Discard the
			// turn; the stored terminal state wins.
			log.Warn().
				Str("session_id", sess.ID.String()).
				Msg("session closed during turn, discarding result")
			return ErrSessionClosed
		}
		if attempt < o.opts.PersistRetry {
			log.Warn().
				Err(lastErr).
				Str("session_id", sess.ID.String()).
				Int("attempt", attempt).
				Msg("failed to persist turn, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	log.Error().
		Err(lastErr).
		Str("session_id", sess.ID.String()).
		Msg("persist retries exhausted, marking session errored")
	if err := sess.Transition(domain.SessionErrored); err == nil {
		if uErr := o.sessions.Update(context.WithoutCancel(ctx), sess); uErr != nil && !errors.Is(uErr, domain.ErrSessionTerminal) {
			log.Error().Err(uErr).Str("session_id", sess.ID.String()).Msg("failed to record errored state")
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistFailed, lastErr)
}

// historyMessages converts persisted turns to prompt messages. Only the
// masked trainee text ever reaches the prompt.
func historyMessages(turns []domain.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		if t.MaskedText != "" {
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.MaskedText})
		}
		if t.ResponseText != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.ResponseText})
		}
	}
	return out
}

// runningAverage folds one more score into an integer running average
func runningAverage(current, count, score int) int {
	if count <= 1 {
		return score
	}
	return (current*(count-1) + score) / count
}
