// Package providers wraps the LLM completion APIs used by controllers.
package providers

import (
	"context"
	"fmt"
	"time"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one completion. A simulation blocks on every call, so a
	// hung request stalls the whole run.
	Timeout time.Duration
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

func WithTimeout(d time.Duration) ProviderOption {
	return func(p *ProviderParams) {
		p.Timeout = d
	}
}

func defaultProviderParams() *ProviderParams {
	return &ProviderParams{Timeout: time.Minute}
}

func buildParams(opts []ProviderOption) *ProviderParams {
	params := defaultProviderParams()
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// withTimeout derives the per-request context.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// New returns the client for a provider name: "openai" or "gemini".
func New(ctx context.Context, provider string, opts ...ProviderOption) (Client, error) {
	switch provider {
	case "openai", "":
		return OpenAi(ctx, opts...), nil
	case "gemini":
		c, err := Gemini(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}
