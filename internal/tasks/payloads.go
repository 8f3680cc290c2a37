package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeResumeProcess = "resume:process"
)

// ResumeProcessPayload 描述一次简历处理所需的最小信息。
// DocumentRef 可以是 storage:// 对象 key，也可以是用户提交的分享链接。
type ResumeProcessPayload struct {
	UserID        uint   `json:"user_id"`
	DocumentRef   string `json:"document_ref"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeProcessTask 构造一个新的简历处理任务。
func NewResumeProcessTask(userID uint, documentRef, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeProcessPayload{
		UserID:        userID,
		DocumentRef:   documentRef,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeProcess, payload), nil
}

// ParseResumeProcessPayload 解析任务负载。
func ParseResumeProcessPayload(data []byte) (ResumeProcessPayload, error) {
	var payload ResumeProcessPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
