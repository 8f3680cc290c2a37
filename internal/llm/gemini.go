package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiBackend 通过 Google Generative AI SDK 调用 Gemini。
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend 构造 Gemini 后端。
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}

	return &GeminiBackend{client: client, model: model}, nil
}

// Name 实现 Backend。
func (b *GeminiBackend) Name() string { return "gemini" }

// Complete 实现 Backend，以 JSON MIME 类型请求结构化输出。
func (b *GeminiBackend) Complete(ctx context.Context, prompt string) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	return geminiResponseText(resp)
}

// Close 释放底层 SDK 资源。
func (b *GeminiBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func geminiResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini: no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", errors.New("gemini: no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("gemini: %w: %v", ErrRateLimited, err)
	}
	// SDK 有时只给字符串化的状态。
	if strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "resource_exhausted") {
		return fmt.Errorf("gemini: %w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}
