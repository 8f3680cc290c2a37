package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRateLimited 表示后端返回了限流/配额类错误（HTTP 429 语义）。
// 所有后端都以此为最后错误失败时，Complete 会透出该哨兵，
// 调用方（API 与队列退避策略）据此与普通暂时性故障区分。
var ErrRateLimited = errors.New("completion backend rate limited")

// NoBackendError 表示没有任何后端成功返回符合约定的结果。
type NoBackendError struct {
	// Last 是最后一个后端记录的错误；后端列表为空时为 nil。
	Last error
}

func (e *NoBackendError) Error() string {
	if e.Last == nil {
		return "no completion backend configured"
	}
	return fmt.Sprintf("no completion backend available: %v", e.Last)
}

func (e *NoBackendError) Unwrap() error { return e.Last }

// ParseError 表示后端原始文本未能通过目标 Shape 的校验。
// 对回退逻辑而言等同于该后端失败。
type ParseError struct {
	Shape      string
	Violations []string
	Err        error
}

func (e *ParseError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("response does not match shape %q: %s", e.Shape, strings.Join(e.Violations, "; "))
	}
	return fmt.Sprintf("response does not match shape %q: %v", e.Shape, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
