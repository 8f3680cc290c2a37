// Package drafts 是 Employee/Thread/Job 映射/Message 的唯一写入方。
// 一次成功的 cold/tailored 生成对应且仅对应一个事务内的完整写入，
// 保证线程对读者可见时必然已带有至少一条消息。
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"refermail/internal/database"
	"refermail/internal/genmail"
)

// ErrThreadNotFound 表示线程不存在或不属于请求用户。
var ErrThreadNotFound = errors.New("thread not found")

// ErrMessageNotFound 表示消息不存在。
var ErrMessageNotFound = errors.New("message not found")

// DraftResult 是一次草稿保存的产物。
type DraftResult struct {
	ThreadID  uint
	MessageID uint
}

// Store 持久化生成结果。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore 构造草稿存储。
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// SaveDraft 在单个事务内执行：联系人 upsert → 建线程 → 职位映射（仅 tailored）→ 插入草稿消息。
// 任一不可恢复的失败整体回滚，不留部分行。
// 职位 upsert 的单项失败先尝试回读已有职位行；回读也失败则整个事务中止
// （取"全有或全无"语义，与事务保证一致）。
func (s *Store) SaveDraft(ctx context.Context, userID uint, req genmail.GenerationRequest, email genmail.GeneratedEmail) (DraftResult, error) {
	if !req.CreatesThread() {
		return DraftResult{}, fmt.Errorf("save draft: request type %q does not create a thread", req.Type)
	}

	var result DraftResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		employee, err := s.upsertEmployee(tx, req)
		if err != nil {
			return err
		}

		thread := database.Thread{
			UserID:      userID,
			EmployeeID:  employee.ID,
			Type:        strings.ToUpper(string(req.Type)),
			Status:      database.ThreadStatusPending,
			LastUpdated: time.Now(),
		}
		if err := tx.Create(&thread).Error; err != nil {
			return fmt.Errorf("create thread: %w", err)
		}

		if req.Type == genmail.TypeTailored {
			if err := s.attachJobs(tx, &thread, req); err != nil {
				return err
			}
		}

		message := database.Message{
			ThreadID: thread.ID,
			Subject:  email.Subject,
			Body:     email.Body,
			FromUser: true,
			Status:   database.MessageStatusDraft,
		}
		if err := tx.Create(&message).Error; err != nil {
			return fmt.Errorf("create draft message: %w", err)
		}

		result = DraftResult{ThreadID: thread.ID, MessageID: message.ID}
		return nil
	})
	if err != nil {
		return DraftResult{}, err
	}
	return result, nil
}

// upsertEmployee 有邮箱时按邮箱更新，无邮箱时总是新建（没有可去重的身份键）。
func (s *Store) upsertEmployee(tx *gorm.DB, req genmail.GenerationRequest) (database.Employee, error) {
	email := strings.TrimSpace(req.ContactEmail)

	if email == "" {
		employee := database.Employee{
			Name:    req.ContactName,
			Company: req.CompanyName,
			Role:    req.ContactRole,
		}
		if err := tx.Create(&employee).Error; err != nil {
			return employee, fmt.Errorf("create employee: %w", err)
		}
		return employee, nil
	}

	var employee database.Employee
	err := tx.Where("email = ?", email).First(&employee).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		employee = database.Employee{
			Name:    req.ContactName,
			Email:   &email,
			Company: req.CompanyName,
			Role:    req.ContactRole,
		}
		if err := tx.Create(&employee).Error; err != nil {
			return employee, fmt.Errorf("create employee: %w", err)
		}
		return employee, nil
	case err != nil:
		return employee, fmt.Errorf("query employee by email: %w", err)
	}

	updates := map[string]any{
		"name":    req.ContactName,
		"company": req.CompanyName,
		"role":    req.ContactRole,
	}
	if err := tx.Model(&employee).Updates(updates).Error; err != nil {
		return employee, fmt.Errorf("update employee: %w", err)
	}
	return employee, nil
}

// attachJobs 为 tailored 请求 upsert 职位并建立线程↔职位映射。
func (s *Store) attachJobs(tx *gorm.DB, thread *database.Thread, req genmail.GenerationRequest) error {
	for _, externalID := range req.JobIDs {
		job := database.Job{
			ExternalID:  externalID,
			Description: req.JobDescription,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"description"}),
		}).Create(&job).Error
		if err != nil {
			// 单项 upsert 失败不立即放弃：回读已有职位行继续建立映射。
			s.logger.Warn("job upsert failed, falling back to read",
				slog.String("job_external_id", externalID),
				slog.Any("error", err),
			)
			if err := tx.Where("external_id = ?", externalID).First(&job).Error; err != nil {
				return fmt.Errorf("job %q: upsert and fallback read both failed: %w", externalID, err)
			}
		} else if job.ID == 0 {
			// 冲突更新路径下部分方言不回填主键。
			if err := tx.Where("external_id = ?", externalID).First(&job).Error; err != nil {
				return fmt.Errorf("job %q: reload after upsert: %w", externalID, err)
			}
		}

		if err := tx.Model(thread).Association("Jobs").Append(&job); err != nil {
			return fmt.Errorf("map thread to job %q: %w", externalID, err)
		}
	}
	return nil
}

// followupStatus 定义追加 followup 时的线程状态推进。
var followupStatus = map[string]string{
	database.ThreadStatusPending:        database.ThreadStatusFirstFollowup,
	database.ThreadStatusSent:           database.ThreadStatusFirstFollowup,
	database.ThreadStatusFirstFollowup:  database.ThreadStatusSecondFollowup,
	database.ThreadStatusSecondFollowup: database.ThreadStatusThirdFollowup,
}

// AppendToThread 把 followup/thankyou 的生成结果作为草稿追加到已有线程。
// followup 同时推进线程的跟进状态。
func (s *Store) AppendToThread(ctx context.Context, userID uint, req genmail.GenerationRequest, email genmail.GeneratedEmail) (DraftResult, error) {
	if req.CreatesThread() {
		return DraftResult{}, fmt.Errorf("append to thread: request type %q creates a new thread", req.Type)
	}

	var result DraftResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thread database.Thread
		err := tx.Where("id = ? AND user_id = ?", req.ThreadID, userID).First(&thread).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrThreadNotFound
			}
			return fmt.Errorf("load thread: %w", err)
		}

		message := database.Message{
			ThreadID: thread.ID,
			Subject:  email.Subject,
			Body:     email.Body,
			FromUser: true,
			Status:   database.MessageStatusDraft,
		}
		if err := tx.Create(&message).Error; err != nil {
			return fmt.Errorf("create draft message: %w", err)
		}

		updates := map[string]any{"last_updated": time.Now()}
		if req.Type == genmail.TypeFollowup {
			if next, ok := followupStatus[thread.Status]; ok {
				updates["status"] = next
			}
		}
		if err := tx.Model(&thread).Updates(updates).Error; err != nil {
			return fmt.Errorf("update thread: %w", err)
		}

		result = DraftResult{ThreadID: thread.ID, MessageID: message.ID}
		return nil
	})
	if err != nil {
		return DraftResult{}, err
	}
	return result, nil
}

// MarkSent 在外部邮件系统完成发送后回填关联 ID，并把消息与线程置为 SENT。
func (s *Store) MarkSent(ctx context.Context, userID, messageID uint, externalMailID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message database.Message
		err := tx.Joins("JOIN threads ON threads.id = messages.thread_id").
			Where("messages.id = ? AND threads.user_id = ?", messageID, userID).
			First(&message).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("load message: %w", err)
		}

		updates := map[string]any{"status": database.MessageStatusSent}
		if externalMailID != "" {
			updates["external_mail_id"] = externalMailID
		}
		if err := tx.Model(&message).Updates(updates).Error; err != nil {
			return fmt.Errorf("mark message sent: %w", err)
		}

		threadUpdates := map[string]any{
			"status":       database.ThreadStatusSent,
			"last_updated": time.Now(),
		}
		if err := tx.Model(&database.Thread{}).Where("id = ?", message.ThreadID).Updates(threadUpdates).Error; err != nil {
			return fmt.Errorf("mark thread sent: %w", err)
		}
		return nil
	})
}
