// Package openai implements provider.Transport for OpenAI's Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/orchflow/provider"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Transport implements provider.Transport against the OpenAI Chat
// Completions API. It never retries internally — the provider manager
// owns all retry and fallback policy.
type Transport struct {
	apiKey string
	client openaiAPI
}

type openaiAPI interface {
	createChatCompletion(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error)
}

// New returns a Transport authenticated with apiKey.
func New(apiKey string) *Transport {
	return &Transport{apiKey: apiKey, client: &defaultClient{apiKey: apiKey}}
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, cfg provider.Config, req provider.Request, timeout time.Duration) (provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.client.createChatCompletion(ctx, cfg, req)
	if err != nil {
		if isRateLimitError(err) {
			return provider.Response{}, &provider.RateLimitError{Err: err}
		}
		return provider.Response{}, err
	}
	return resp, nil
}

func isRateLimitError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "rate limit") ||
		strings.Contains(err.Error(), "429")
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error) {
	if c.apiKey == "" {
		return provider.Response{}, errors.New("OpenAI API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey), option.WithMaxRetries(0))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(cfg.Model),
		Messages: convertMessages(req.Messages),
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.Response{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []provider.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "system":
			result[i] = openaisdk.SystemMessage(msg.Content)
		case "assistant":
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) provider.Response {
	out := provider.Response{
		Raw:          resp,
		TokensUsed:   int(resp.Usage.TotalTokens),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out
}
