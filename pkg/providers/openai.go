package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

// OpenAIClient talks to the OpenAI chat completions API or any server that
// speaks it.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration
}

// OpenAi creates a client, falling back to OPENAI_API_BASE_URL and
// OPENAI_API_KEY for unset options.
func OpenAi(ctx context.Context, opts ...ProviderOption) *OpenAIClient {
	params := buildParams(opts)
	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
	}
	if params.BaseURL == "" {
		params.BaseURL = defaultOpenAIBaseURL
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	reqOpts := []option.RequestOption{option.WithBaseURL(params.BaseURL)}
	if params.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(params.APIKey))
	}
	slog.Debug("openai client created", "base_url", params.BaseURL, "timeout", params.Timeout)
	return &OpenAIClient{
		client:  openai.NewClient(reqOpts...),
		timeout: params.Timeout,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(model),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion with %s: %w", model, err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
