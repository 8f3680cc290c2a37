package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"refermail/internal/database"
)

// ThreadHandler 负责外联线程的查询。
type ThreadHandler struct {
	db *gorm.DB
}

// NewThreadHandler 构造 ThreadHandler。
func NewThreadHandler(db *gorm.DB) *ThreadHandler {
	return &ThreadHandler{db: db}
}

type threadListItem struct {
	ID          uint      `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Contact     contact   `json:"contact"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type contact struct {
	Name    string  `json:"name"`
	Email   *string `json:"email"`
	Company string  `json:"company"`
	Role    string  `json:"role"`
}

type messageItem struct {
	ID             uint      `json:"id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	FromUser       bool      `json:"fromUser"`
	Status         string    `json:"status"`
	ExternalMailID *string   `json:"externalMailId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type threadDetail struct {
	threadListItem
	Jobs     []jobItem     `json:"jobs"`
	Messages []messageItem `json:"messages"`
}

type jobItem struct {
	ExternalID  string `json:"externalId"`
	Description string `json:"description"`
}

// ListThreads 列出当前用户的外联线程，支持按状态过滤。
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).
		Preload("Employee").
		Where("user_id = ?", userID).
		Order("last_updated DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var threads []database.Thread
	if err := query.Find(&threads).Error; err != nil {
		Internal(c, "failed to list threads")
		return
	}

	items := make([]threadListItem, 0, len(threads))
	for _, t := range threads {
		items = append(items, newThreadListItem(t))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetThread 返回线程详情，含消息与关联职位；越权访问表现为 404。
func (h *ThreadHandler) GetThread(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	threadID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid thread id")
		return
	}

	var thread database.Thread
	err = h.db.WithContext(c.Request.Context()).
		Preload("Employee").
		Preload("Jobs").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ? AND user_id = ?", uint(threadID), userID).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "thread not found")
			return
		}
		Internal(c, "failed to load thread")
		return
	}

	detail := threadDetail{
		threadListItem: newThreadListItem(thread),
		Jobs:           make([]jobItem, 0, len(thread.Jobs)),
		Messages:       make([]messageItem, 0, len(thread.Messages)),
	}
	for _, j := range thread.Jobs {
		detail.Jobs = append(detail.Jobs, jobItem{ExternalID: j.ExternalID, Description: j.Description})
	}
	for _, m := range thread.Messages {
		detail.Messages = append(detail.Messages, messageItem{
			ID:             m.ID,
			Subject:        m.Subject,
			Body:           m.Body,
			FromUser:       m.FromUser,
			Status:         m.Status,
			ExternalMailID: m.ExternalMailID,
			CreatedAt:      m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, detail)
}

func newThreadListItem(t database.Thread) threadListItem {
	return threadListItem{
		ID:     t.ID,
		Type:   t.Type,
		Status: t.Status,
		Contact: contact{
			Name:    t.Employee.Name,
			Email:   t.Employee.Email,
			Company: t.Employee.Company,
			Role:    t.Employee.Role,
		},
		LastUpdated: t.LastUpdated,
	}
}
