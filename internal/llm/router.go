package llm

import "fmt"

// Router manages registered LLM providers
type Router struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRouter creates a provider router
func NewRouter(defaultProvider string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider adds a provider to the router
func (r *Router) RegisterProvider(p Provider) {
	r.providers[p.Name()] = p
}

// DefaultProvider returns the configured default provider name
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// GetProvider returns a provider by name, falling back to the default
func (r *Router) GetProvider(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s", name)
	}
	return p, nil
}
