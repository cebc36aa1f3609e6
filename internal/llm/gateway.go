package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chattrain/chattrain/internal/domain"
	"github.com/chattrain/chattrain/internal/metrics"
	"github.com/chattrain/chattrain/internal/security"
)

var (
	// ErrProviderUnavailable means retries were exhausted or the
	// provider could not be reached; the caller should substitute a
	// fallback message and keep the session alive.
	ErrProviderUnavailable = errors.New("llm provider unavailable")

	// ErrProviderRefused means the provider answered but declined to
	// produce usable content.
	ErrProviderRefused = errors.New("llm provider refused")

	// ErrNotConfigured means no credentials are present; non-retriable.
	ErrNotConfigured = errors.New("llm provider not configured")
)

// GatewayOptions bound each external call
type GatewayOptions struct {
	Timeout       time.Duration
	MaxRetries    int
	HistoryWindow int
	TokenCeiling  int
}

// DefaultGatewayOptions mirrors the documented call discipline
func DefaultGatewayOptions() GatewayOptions {
	return GatewayOptions{
		Timeout:       8 * time.Second,
		MaxRetries:    3,
		HistoryWindow: 10,
		TokenCeiling:  3000,
	}
}

// GenerateInput is one gateway invocation
type GenerateInput struct {
	Instruction string
	Context     string
	History     []Message
	UserText    string
	Params      domain.ModelParams
}

// Reply is a validated gateway result
type Reply struct {
	Text       string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Gateway invokes the external model with timeout and retry discipline
// and re-validates every response before it leaves the package.
type Gateway struct {
	router    *Router
	masker    *security.Masker
	validator *security.InputValidator
	opts      GatewayOptions
}

// NewGateway creates a model gateway
func NewGateway(router *Router, masker *security.Masker, validator *security.InputValidator, opts GatewayOptions) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Gateway{router: router, masker: masker, validator: validator, opts: opts}
}

// Generate assembles the prompt, calls the provider, and returns the
// response after it has passed the injection scan and the masking
// engine. Transient failures are retried with exponential backoff;
// auth and configuration failures propagate immediately.
func (g *Gateway) Generate(ctx context.Context, in GenerateInput) (*Reply, error) {
	provider, err := g.router.GetProvider(in.Params.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if !provider.IsConfigured() {
		return nil, ErrNotConfigured
	}

	model := in.Params.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	req := Request{
		Messages:    BuildMessages(promptFields(in), g.opts.HistoryWindow, g.opts.TokenCeiling),
		Model:       model,
		Temperature: in.Params.Temperature,
		MaxTokens:   in.Params.MaxTokens,
	}

	resp, err := g.callWithRetry(ctx, provider, req)
	if err != nil {
		return nil, err
	}

	text, findings := g.validator.Sanitize(resp.Content)
	if len(findings) > 0 {
		log.Warn().
			Str("provider", provider.Name()).
			Int("findings", len(findings)).
			Msg("filtered injection signatures from model response")
	}

	masked, _, err := g.masker.Mask(text)
	if err != nil {
		// Residual sensitive data in model output is a refusal from the
		// pipeline's point of view: nothing usable can be emitted.
		return nil, fmt.Errorf("%w: response failed masking verification", ErrProviderRefused)
	}

	return &Reply{
		Text:       masked,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
		LatencyMs:  resp.LatencyMs,
	}, nil
}

func promptFields(in GenerateInput) PromptInput {
	return PromptInput{
		Instruction: in.Instruction,
		Context:     in.Context,
		History:     in.History,
		UserText:    in.UserText,
	}
}

func (g *Gateway) callWithRetry(ctx context.Context, provider Provider, req Request) (*Response, error) {
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		resp, err := provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			if resp.Content == "" {
				return nil, ErrProviderRefused
			}
			return resp, nil
		}
		lastErr = err

		var pErr *ProviderError
		switch {
		case errors.Is(err, context.Canceled):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded):
			// transient, retry
		case errors.As(err, &pErr):
			if pErr.Refused {
				return nil, fmt.Errorf("%w: %v", ErrProviderRefused, err)
			}
			if !pErr.Transient {
				return nil, err
			}
		default:
			// network-level failures are treated as transient
		}

		if attempt < g.opts.MaxRetries {
			metrics.ProviderRetries.Inc()
			log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("transient provider failure, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}
