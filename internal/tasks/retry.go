package tasks

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"refermail/internal/config"
	"refermail/internal/llm"
)

// RetryPolicy 是与具体队列实现解耦的指数退避配置。
// MaxAttempts 含首次执行；限流失败使用更长的固定下限。
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	RateLimitDelay time.Duration
}

// PolicyFromConfig 从 worker 配置构造重试策略。
func PolicyFromConfig(cfg config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		Multiplier:     2,
		RateLimitDelay: cfg.RateLimitDelay,
	}
}

// MaxRetry 转换为 asynq 的重试次数（不含首次执行）。
func (p RetryPolicy) MaxRetry() int {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return p.MaxAttempts - 1
}

// Delay 返回第 n 次失败后的退避时长（n 从 0 计）。
func (p RetryPolicy) Delay(n int, err error) time.Duration {
	delay := p.BaseDelay
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	for i := 0; i < n; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}

	if errors.Is(err, llm.ErrRateLimited) && delay < p.RateLimitDelay {
		return p.RateLimitDelay
	}
	return delay
}

// AsynqDelayFunc 把策略适配为 asynq.Config.RetryDelayFunc。
func (p RetryPolicy) AsynqDelayFunc() func(n int, err error, task *asynq.Task) time.Duration {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		return p.Delay(n, err)
	}
}
