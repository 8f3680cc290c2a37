package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const groqURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqBackend 通过 OpenAI 兼容的 chat completions 接口调用 Groq。
type GroqBackend struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGroqBackend 构造 Groq 后端。
func NewGroqBackend(apiKey, model string) (*GroqBackend, error) {
	if apiKey == "" {
		return nil, errors.New("groq api key is required")
	}
	return &GroqBackend{
		apiKey:     apiKey,
		model:      model,
		baseURL:    groqURL,
		httpClient: &http.Client{},
	}, nil
}

// Name 实现 Backend。
func (b *GroqBackend) Name() string { return "groq" }

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete 实现 Backend。
func (b *GroqBackend) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := groqRequest{
		Model: b.model,
		Messages: []groqMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("groq: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("groq: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq: http request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("groq: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("groq: %w: %s", ErrRateLimited, string(bodyBytes))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("groq: status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var groqResp groqResponse
	if err := json.Unmarshal(bodyBytes, &groqResp); err != nil {
		return "", fmt.Errorf("groq: decode response: %w", err)
	}
	if groqResp.Error != nil {
		return "", fmt.Errorf("groq: api error: %s", groqResp.Error.Message)
	}
	if len(groqResp.Choices) == 0 {
		return "", errors.New("groq: no choices in response")
	}

	return groqResp.Choices[0].Message.Content, nil
}
