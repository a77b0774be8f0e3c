// Package llm wraps chat-completion providers behind a small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 20 * time.Second
)

// ErrNoChoices is returned when the provider answers without a completion.
var ErrNoChoices = errors.New("no completion choices returned")

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Client is a Completer backed by the OpenAI chat completions API.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewClient builds a Client. baseURL may be empty.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

func (c *Client) ModelName() string { return c.model }

// Complete returns the trimmed content of the first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

var _ Completer = (*Client)(nil)
