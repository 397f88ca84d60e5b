// Package google implements provider.Transport for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/orchflow/provider"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Transport implements provider.Transport against the Gemini API.
type Transport struct {
	apiKey string
	client googleAPI
}

type googleAPI interface {
	generateContent(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error)
}

// New returns a Transport authenticated with apiKey.
func New(apiKey string) *Transport {
	return &Transport{apiKey: apiKey, client: &defaultClient{apiKey: apiKey}}
}

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, cfg provider.Config, req provider.Request, timeout time.Duration) (provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.client.generateContent(ctx, cfg, req)
	if err != nil {
		var safetyErr *SafetyFilterError
		if errors.As(err, &safetyErr) {
			return provider.Response{}, safetyErr
		}
		return provider.Response{}, err
	}
	return resp, nil
}

// SafetyFilterError represents a Gemini safety filter block.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}

type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, cfg provider.Config, req provider.Request) (provider.Response, error) {
	if c.apiKey == "" {
		return provider.Response{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return provider.Response{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(cfg.Model)
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		genModel.Temperature = &temp
	}

	parts := convertMessages(req.Messages)
	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return provider.Response{}, fmt.Errorf("google API error: %w", err)
	}
	return convertResponse(resp)
}

func convertMessages(messages []provider.Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertResponse(resp *genai.GenerateContentResponse) (provider.Response, error) {
	out := provider.Response{Raw: resp}
	if len(resp.Candidates) == 0 {
		return out, nil
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return provider.Response{}, &SafetyFilterError{Category: "SAFETY"}
	}
	if candidate.Content == nil {
		return out, nil
	}
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += string(text)
		}
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
