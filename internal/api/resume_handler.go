package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"refermail/internal/api/middleware"
	"refermail/internal/database"
	"refermail/internal/docfetch"
	"refermail/internal/profile"
	"refermail/internal/storage"
	"refermail/internal/tasks"
)

// TaskEnqueuer 抽象任务入队，*asynq.Client 即实现。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ResumeHandler 负责简历接收：上传入库、外链登记与画像查询。
type ResumeHandler struct {
	db        *gorm.DB
	enqueuer  TaskEnqueuer
	storage   *storage.Client
	profiles  *profile.Store
	logger    *slog.Logger
	clamdAddr string
	maxBytes  int64
	maxRetry  int
}

// NewResumeHandler 构造 ResumeHandler。clamdAddr 为空时跳过病毒扫描。
func NewResumeHandler(
	db *gorm.DB,
	enqueuer TaskEnqueuer,
	storageClient *storage.Client,
	logger *slog.Logger,
	clamdAddr string,
	maxBytes int64,
	maxRetry int,
) *ResumeHandler {
	return &ResumeHandler{
		db:        db,
		enqueuer:  enqueuer,
		storage:   storageClient,
		profiles:  profile.NewStore(db),
		logger:    logger,
		clamdAddr: clamdAddr,
		maxBytes:  maxBytes,
		maxRetry:  maxRetry,
	}
}

// UploadResume 接收 multipart 简历文件，落盘到对象存储后将解析任务入队。
// 立即返回 202，解析结果通过 WebSocket 通知。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		ErrorKind(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}

	if h.clamdAddr != "" {
		if err := h.scanUpload(c, file); err != nil {
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	objectKey := fmt.Sprintf("resumes/%d/%s.pdf", userID, uuid.NewString())
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	ctx := c.Request.Context()
	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger.Error("upload resume", slog.String("error", err.Error()))
		Internal(c, "failed to store file")
		return
	}

	h.acceptDocument(c, userID, docfetch.StoragePrefix+objectKey)
}

type submitLinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// SubmitResumeLink 登记一个指向简历文档的外链（Google Drive/Docs、Dropbox
// 或任意 http(s) 地址），将解析任务入队后返回 202。
func (h *ResumeHandler) SubmitResumeLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req submitLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if _, err := docfetch.NormalizeRef(req.URL); err != nil {
		ErrorKind(c, http.StatusBadRequest, "unsupported_link", err.Error())
		return
	}

	h.acceptDocument(c, userID, req.URL)
}

func (h *ResumeHandler) acceptDocument(c *gin.Context, userID uint, documentRef string) {
	ctx := c.Request.Context()
	if err := h.profiles.MarkProcessing(ctx, userID, documentRef); err != nil {
		h.logger.Error("mark profile processing", slog.String("error", err.Error()))
		Internal(c, "failed to update profile status")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewResumeProcessTask(userID, documentRef, correlationID)
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.enqueuer.Enqueue(task, asynq.MaxRetry(h.maxRetry))
	if err != nil {
		Internal(c, "failed to enqueue resume processing")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "resume accepted for processing",
		"task_id": info.ID,
	})
}

// scanUpload 以流式方式送 clamd 扫描。命中病毒或扫描失败时已写入响应，
// 返回非 nil 让调用方直接结束请求。
func (h *ResumeHandler) scanUpload(c *gin.Context, file *multipart.FileHeader) error {
	clamdClient := clamd.NewClamd(h.clamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return err
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		h.logger.Error("scan file", slog.String("error", err.Error()))
		Internal(c, "failed to scan file")
		return err
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			ErrorKind(c, http.StatusBadRequest, "malicious_file", "malicious file detected")
			return errors.New("malicious file detected")
		}
	}
	return nil
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}

const downloadURLTTL = 15 * time.Minute

// DownloadResume 返回当前简历文档的下载地址：对象存储中的文件生成限时
// 预签名链接，外链原样返回。
func (h *ResumeHandler) DownloadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	err := h.db.WithContext(c.Request.Context()).
		Select("id", "resume_ref").
		First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load resume reference")
		return
	}

	if user.ResumeRef == "" {
		ErrorKind(c, http.StatusNotFound, "no_resume", "no resume on file")
		return
	}

	if !strings.HasPrefix(user.ResumeRef, docfetch.StoragePrefix) {
		c.JSON(http.StatusOK, gin.H{"url": user.ResumeRef})
		return
	}

	objectKey := strings.TrimPrefix(user.ResumeRef, docfetch.StoragePrefix)
	url, err := h.storage.GeneratePresignedURL(c.Request.Context(), objectKey, downloadURLTTL)
	if err != nil {
		h.logger.Error("presign resume download", slog.String("error", err.Error()))
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       url,
		"expiresIn": int(downloadURLTTL.Seconds()),
	})
}

// profileResponse 是 GET /v1/profile 的响应体，JSON 字段直接透传 jsonb 列。
type profileResponse struct {
	ProfileStatus string         `json:"profileStatus"`
	Skills        datatypes.JSON `json:"skills"`
	Experiences   datatypes.JSON `json:"experiences"`
	Education     string         `json:"education"`
	Achievements  datatypes.JSON `json:"achievements"`
	UpdatedAt     *time.Time     `json:"updatedAt"`
}

// GetProfile 返回当前用户的画像与解析状态。
func (h *ResumeHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	err := h.db.WithContext(c.Request.Context()).
		Select("id", "skills", "experiences", "education", "achievements", "profile_status", "profile_updated_at").
		First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to load profile")
		return
	}

	status := user.ProfileStatus
	if status == "" {
		status = database.ProfileStatusNone
	}

	c.JSON(http.StatusOK, profileResponse{
		ProfileStatus: status,
		Skills:        user.Skills,
		Experiences:   user.Experiences,
		Education:     user.Education,
		Achievements:  user.Achievements,
		UpdatedAt:     user.ProfileUpdatedAt,
	})
}
