package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"refermail/internal/metrics"
)

// Backend 表示一个补全提供方（Gemini、Groq 等）。
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client 按声明顺序逐个尝试后端，返回首个通过 Shape 校验的结果。
// 不持有任何全局状态，由调用方显式注入。
type Client struct {
	backends []Backend
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient 构造补全客户端。backends 的顺序即回退顺序。
func NewClient(logger *slog.Logger, timeout time.Duration, backends ...Backend) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backends: backends,
		timeout:  timeout,
		logger:   logger,
	}
}

// Backends 返回已配置的后端名称，按回退顺序。
func (c *Client) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// Complete 向后端发送 prompt（附带由 shape 派生的格式约定），返回通过校验的 JSON。
// 单个后端的失败（含解析失败）只会推进到下一个后端；全部失败时：
//   - 最后错误是限流 → 透出 ErrRateLimited
//   - 其他 → *NoBackendError 包装最后错误（后端列表为空时 Last 为 nil）
func (c *Client) Complete(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error) {
	if len(c.backends) == 0 {
		return nil, &NoBackendError{}
	}

	fullPrompt := prompt + "\n\n" + shape.Instructions()

	var lastErr error
	for _, backend := range c.backends {
		raw, err := c.completeOne(ctx, backend, fullPrompt)
		if err != nil {
			lastErr = err
			c.logger.Warn("completion backend failed",
				slog.String("backend", backend.Name()),
				slog.String("shape", shape.Name),
				slog.Any("error", err),
			)
			continue
		}

		doc, err := Parse(raw, shape)
		if err != nil {
			lastErr = err
			metrics.LLMParseFailure(backend.Name())
			c.logger.Warn("completion response failed shape validation",
				slog.String("backend", backend.Name()),
				slog.String("shape", shape.Name),
				slog.Any("error", err),
			)
			continue
		}

		return doc, nil
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return nil, fmt.Errorf("all completion backends exhausted: %w", ErrRateLimited)
	}
	return nil, &NoBackendError{Last: lastErr}
}

func (c *Client) completeOne(ctx context.Context, backend Backend, prompt string) (string, error) {
	bctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := backend.Complete(bctx, prompt)
	metrics.ObserveLLMCall(backend.Name(), llmOutcome(err), time.Since(start))
	return raw, err
}

func llmOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
