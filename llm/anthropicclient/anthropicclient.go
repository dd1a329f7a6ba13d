// Package anthropicclient implements llm.Extractor on top of the
// Anthropic Claude Messages API.
package anthropicclient

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/actiquest-dev/membria/llm"
)

// MessagesClient captures the subset of the Anthropic SDK client used by
// this adapter, so callers can substitute a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// defaultMaxTokens bounds the completion length for a batch-extraction
// response; it must comfortably fit one JSON object per signal.
const defaultMaxTokens = 4096

// Client implements llm.Extractor via Anthropic Messages.
type Client struct {
	msg   MessagesClient
	model string
}

// New builds a Client from an explicit MessagesClient, for tests or a
// shared SDK client.
func New(msg MessagesClient, model string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicclient: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropicclient: model is required")
	}
	return &Client{msg: msg, model: model}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY conventions from the SDK.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicclient: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, model)
}

// Extract sends batch as a single Messages.New request and parses the
// resulting text as a JSON array of decision drafts.
func (c *Client) Extract(ctx context.Context, batch []llm.SignalInput) ([]llm.Draft, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	prompt := llm.BuildPrompt(batch)

	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}

	text := extractText(msg)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", llm.ErrMalformed)
	}
	return llm.ParseBatchResponse(text, batch)
}

func extractText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return ""
}
