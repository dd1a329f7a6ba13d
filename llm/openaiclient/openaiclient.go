// Package openaiclient implements llm.Extractor on top of the OpenAI
// Chat Completions API.
package openaiclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/actiquest-dev/membria/llm"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements llm.Extractor via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from an explicit ChatClient, for tests or a shared
// SDK client.
func New(chat ChatClient, model string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openaiclient: chat client is required")
	}
	if model == "" {
		return nil, errors.New("openaiclient: model is required")
	}
	return &Client{chat: chat, model: model}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaiclient: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, model)
}

// Extract sends batch as a single chat completion request and parses the
// resulting text as a JSON array of decision drafts.
func (c *Client) Extract(ctx context.Context, batch []llm.SignalInput) ([]llm.Draft, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	prompt := llm.BuildPrompt(batch)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", llm.ErrMalformed)
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", llm.ErrMalformed)
	}
	return llm.ParseBatchResponse(text, batch)
}
