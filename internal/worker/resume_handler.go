package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"refermail/internal/database"
	"refermail/internal/errcode"
	"refermail/internal/extract"
	"refermail/internal/llm"
	"refermail/internal/profile"
	"refermail/internal/tasks"
)

// Extractor 执行画像提取（由 profile.Pipeline 实现）。
type Extractor interface {
	Extract(ctx context.Context, documentRef string) (profile.CandidateProfile, error)
}

// ProfileSaver 持久化提取结果（由 profile.Store 实现）。
type ProfileSaver interface {
	Save(ctx context.Context, userID uint, p profile.CandidateProfile) error
	MarkFailed(ctx context.Context, userID uint) error
}

// ResumeTaskHandler 负责消费简历处理任务。
// 同一任务重复执行是安全的：提取无副作用，画像写入为覆盖式 upsert。
type ResumeTaskHandler struct {
	db       *gorm.DB
	pipeline Extractor
	profiles ProfileSaver
	notifier Notifier
	logger   *slog.Logger
}

// NewResumeTaskHandler 创建任务处理器。
func NewResumeTaskHandler(db *gorm.DB, pipeline Extractor, profiles ProfileSaver, notifier Notifier, logger *slog.Logger) *ResumeTaskHandler {
	return &ResumeTaskHandler{
		db:       db,
		pipeline: pipeline,
		profiles: profiles,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// 错误分类决定重试行为：
//   - 用户输入类错误（链接/文件问题）立即终止，不重试；
//   - 补全类错误交给队列按退避策略重试；
//   - 最后一次尝试失败时把画像置为 FAILED 并通知。
func (h *ResumeTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	payload, err := tasks.ParseResumeProcessPayload(t.Payload())
	if err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("starting resume processing task")

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, payload.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("user not found, skipping task")
			return nil
		}
		log.Error("query user failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || errors.Is(retErr, asynq.SkipRetry) {
			return
		}
		if !isFinalAttempt(ctx) {
			return
		}
		// 重试次数耗尽：任务转入 archived 队列，操作员通过 cmd/admin 处置。
		log.Error("resume processing permanently failed", slog.Any("error", retErr))
		h.failAndNotify(ctx, payload, classifyErrorCode(retErr), retErr, log)
	}()

	extracted, err := h.pipeline.Extract(ctx, payload.DocumentRef)
	if err != nil {
		if profile.IsUserInputError(err) {
			log.Warn("resume rejected, not retryable", slog.Any("error", err))
			h.failAndNotify(ctx, payload, classifyErrorCode(err), err, log)
			return fmt.Errorf("extract profile: %v: %w", err, asynq.SkipRetry)
		}
		log.Error("extract profile failed", slog.Any("error", err))
		return fmt.Errorf("extract profile: %w", err)
	}

	if err := h.profiles.Save(ctx, payload.UserID, extracted); err != nil {
		log.Error("save profile failed", slog.Any("error", err))
		return fmt.Errorf("save profile: %w", err)
	}

	notify := ResumeProcessNotifyMessage{
		Status:        "completed",
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.notifier.Notify(ctx, payload.UserID, notify); err != nil {
		log.Warn("publish completion notification failed", slog.Any("error", err))
	}

	log.Info("resume processing task completed",
		slog.Int("skills", len(extracted.Skills)),
		slog.Int("experiences", len(extracted.Experiences)),
	)
	return nil
}

func (h *ResumeTaskHandler) failAndNotify(ctx context.Context, payload tasks.ResumeProcessPayload, code int, cause error, log *slog.Logger) {
	if err := h.profiles.MarkFailed(ctx, payload.UserID); err != nil {
		log.Error("mark profile failed state", slog.Any("error", err))
	}
	notify := ResumeProcessNotifyMessage{
		Status:        "error",
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  strings.TrimSpace(cause.Error()),
	}
	if err := h.notifier.Notify(ctx, payload.UserID, notify); err != nil {
		log.Error("publish error notification failed", slog.Any("error", err))
	}
}

func classifyErrorCode(err error) int {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return errcode.RateLimited
	case errors.Is(err, extract.ErrUnsupportedFormat), errors.Is(err, extract.ErrCorruptDocument):
		return errcode.BadDocumentFile
	case profile.IsUserInputError(err):
		return errcode.BadDocumentLink
	default:
		return errcode.SystemError
	}
}

func isFinalAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
