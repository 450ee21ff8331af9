package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Router tries providers in registration order until one succeeds.
type Router struct {
	providers []Provider
	mu        sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register appends a provider to the fallback chain.
func (r *Router) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
}

// Complete returns the first successful completion. When every provider
// fails the individual errors are joined.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	providers := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()

	if len(providers) == 0 {
		return CompletionResponse{}, ErrNoProvider
	}

	var errs []error
	for _, p := range providers {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			slog.Warn("AI provider failed, trying next",
				"provider", p.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		resp.Provider = p.Name()
		slog.Debug("AI request completed",
			"provider", p.Name(),
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	return CompletionResponse{}, fmt.Errorf("all AI providers failed: %w", errors.Join(errs...))
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Names returns the registered providers in fallback order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Name()
	}
	return out
}
