// Package anthropic implements provider.Transport for Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/orchflow/provider"
)

// Transport implements provider.Transport against the Anthropic Messages API.
type Transport struct {
	apiKey string
	client anthropicAPI
}

// anthropicAPI narrows the SDK surface this package depends on, so tests
// can substitute a fake without hitting the network.
type anthropicAPI interface {
	createMessage(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error)
}

// New returns a Transport authenticated with apiKey.
func New(apiKey string) *Transport {
	return &Transport{apiKey: apiKey, client: &defaultClient{apiKey: apiKey}}
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, cfg provider.Config, req provider.Request, timeout time.Duration) (provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.client.createMessage(ctx, cfg, req)
	if err != nil {
		var apiErr *anthropicError
		if errors.As(err, &apiErr) && apiErr.Type == "rate_limit_error" {
			return provider.Response{}, &provider.RateLimitError{Err: apiErr}
		}
		return provider.Response{}, err
	}
	return resp, nil
}

func extractSystemPrompt(messages []provider.Message) (string, []provider.Message) {
	var systemPrompt string
	var rest []provider.Message
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		} else {
			rest = append(rest, msg)
		}
	}
	return systemPrompt, rest
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) createMessage(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error) {
	if c.apiKey == "" {
		return provider.Response{}, errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey), option.WithMaxRetries(0))

	systemPrompt, convo := extractSystemPrompt(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(cfg.Model),
		Messages:  convertMessages(convo),
		MaxTokens: int64(maxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, fmt.Errorf("anthropic API error: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []provider.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "assistant":
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) provider.Response {
	out := provider.Response{Raw: resp}
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += b.Text
		}
	}
	out.InputTokens = int(resp.Usage.InputTokens)
	out.OutputTokens = int(resp.Usage.OutputTokens)
	out.TokensUsed = out.InputTokens + out.OutputTokens
	return out
}

type anthropicError struct {
	Type    string
	Message string
}

func (e *anthropicError) Error() string { return e.Type + ": " + e.Message }
