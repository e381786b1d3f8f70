package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client  *genai.Client
	timeout time.Duration
}

// Gemini creates a client for the Gemini API, falling back to GEMINI_API_KEY.
// BaseURL is ignored.
func Gemini(ctx context.Context, opts ...ProviderOption) (*GeminiClient, error) {
	params := buildParams(opts)
	if params.APIKey == "" {
		params.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if params.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  params.APIKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, timeout: params.Timeout}, nil
}

// Complete returns the text of the first candidate, all parts joined.
func (c *GeminiClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	result, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini completion with %s: %w", model, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates for %s", model)
	}

	var b strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
