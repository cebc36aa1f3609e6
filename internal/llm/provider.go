package llm

import (
	"context"
	"fmt"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation sent to a provider
type Message struct {
	Role    Role
	Content string
}

// Request contains completion parameters
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response contains a provider completion result
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Complete generates one chat completion
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderError classifies a provider failure so the gateway can decide
// whether to retry. Transient covers timeouts, 5xx and provider rate
// limits; Refused covers content refusals; anything else (auth, config)
// is non-retriable and propagates immediately.
type ProviderError struct {
	Provider  string
	Status    int
	Transient bool
	Refused   bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s provider: status %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
