package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ResumeProcessNotifyMessage 是处理结果通知协议（经 Redis Pub/Sub 转发给前端）。
// 字段名与前端解析保持一致。
type ResumeProcessNotifyMessage struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// Notifier 把处理结果推送给指定用户。
type Notifier interface {
	Notify(ctx context.Context, userID uint, msg ResumeProcessNotifyMessage) error
}

// RedisNotifier 通过 Redis Pub/Sub 按用户频道发布通知。
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier 构造 Redis 通知器。
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Notify 实现 Notifier。
func (n *RedisNotifier) Notify(ctx context.Context, userID uint, msg ResumeProcessNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification to %q: %w", channel, err)
	}
	return nil
}

// NotifyChannel 返回指定用户的通知频道名。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}
