package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"refermail/internal/drafts"
	"refermail/internal/genmail"
	"refermail/internal/llm"
)

// EmailGenerator 抽象邮件生成，*genmail.Generator 即实现。
type EmailGenerator interface {
	Generate(ctx context.Context, userID uint, req genmail.GenerationRequest) (genmail.GeneratedEmail, error)
}

// DraftStore 抽象草稿持久化，*drafts.Store 即实现。
type DraftStore interface {
	SaveDraft(ctx context.Context, userID uint, req genmail.GenerationRequest, email genmail.GeneratedEmail) (drafts.DraftResult, error)
	AppendToThread(ctx context.Context, userID uint, req genmail.GenerationRequest, email genmail.GeneratedEmail) (drafts.DraftResult, error)
	MarkSent(ctx context.Context, userID, messageID uint, externalMailID string) error
}

// EmailHandler 负责邮件生成与发送回执。
type EmailHandler struct {
	generator EmailGenerator
	store     DraftStore
	logger    *slog.Logger
}

// NewEmailHandler 构造 EmailHandler。
func NewEmailHandler(generator EmailGenerator, store DraftStore, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		generator: generator,
		store:     store,
		logger:    logger,
	}
}

type generateResponse struct {
	ThreadID  uint   `json:"threadId"`
	MessageID uint   `json:"messageId"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// GenerateEmail 按请求类型生成一封邮件并持久化为草稿。
// cold/tailored 创建新线程，followup/thankyou 追加到已有线程。
func (h *EmailHandler) GenerateEmail(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req genmail.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorKind(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		ErrorKind(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := c.Request.Context()
	email, err := h.generator.Generate(ctx, userID, req)
	if err != nil {
		h.respondGenerateError(c, err)
		return
	}

	var result drafts.DraftResult
	if req.CreatesThread() {
		result, err = h.store.SaveDraft(ctx, userID, req, email)
	} else {
		result, err = h.store.AppendToThread(ctx, userID, req, email)
	}
	if err != nil {
		if errors.Is(err, drafts.ErrThreadNotFound) {
			ErrorKind(c, http.StatusNotFound, "thread_not_found", "thread not found")
			return
		}
		h.logger.Error("persist draft", slog.String("error", err.Error()))
		Internal(c, "failed to save draft")
		return
	}

	c.JSON(http.StatusCreated, generateResponse{
		ThreadID:  result.ThreadID,
		MessageID: result.MessageID,
		Subject:   email.Subject,
		Body:      email.Body,
	})
}

func (h *EmailHandler) respondGenerateError(c *gin.Context, err error) {
	var noBackend *llm.NoBackendError
	switch {
	case errors.Is(err, genmail.ErrThreadNotFound):
		ErrorKind(c, http.StatusNotFound, "thread_not_found", "thread not found")
	case errors.Is(err, genmail.ErrEmptyThread):
		ErrorKind(c, http.StatusBadRequest, "empty_thread", "thread has no messages")
	case errors.Is(err, llm.ErrRateLimited):
		ErrorKind(c, http.StatusTooManyRequests, "rate_limited", "completion backends are rate limited, retry later")
	case errors.As(err, &noBackend):
		ErrorKind(c, http.StatusBadGateway, "completion_unavailable", noBackend.Error())
	default:
		h.logger.Error("generate email", slog.String("error", err.Error()))
		Internal(c, "failed to generate email")
	}
}

type markSentRequest struct {
	ExternalMailID string `json:"externalMailId"`
}

// MarkMessageSent 在外部邮件系统完成发送后回填发送状态。
func (h *EmailHandler) MarkMessageSent(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	messageID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid message id")
		return
	}

	var req markSentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, err.Error())
		return
	}

	if err := h.store.MarkSent(c.Request.Context(), userID, uint(messageID), req.ExternalMailID); err != nil {
		if errors.Is(err, drafts.ErrMessageNotFound) {
			NotFound(c, "message not found")
			return
		}
		Internal(c, "failed to mark message sent")
		return
	}

	c.Status(http.StatusNoContent)
}
