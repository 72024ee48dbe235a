package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	client oai.Client
	model  string
}

// OpenAIOptions configures the chat client
type OpenAIOptions struct {
	APIKey  string
	BaseURL string // empty uses api.openai.com
	Model   string
	Timeout time.Duration
}

// NewOpenAIProvider creates a provider
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	// Retries are owned by Resilient
	reqOpts = append(reqOpts, option.WithMaxRetries(0))

	return &OpenAIProvider{client: oai.NewClient(reqOpts...), model: opts.Model}, nil
}

// Complete implements Provider with zero temperature
func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		messages = append(messages, oai.SystemMessage(prompt.System))
	}
	messages = append(messages, oai.UserMessage(prompt.User))

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
