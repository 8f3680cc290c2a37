package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"refermail/internal/database"
)

// ErrUserNotFound 表示目标用户不存在。
var ErrUserNotFound = errors.New("user not found")

// Store 负责把提取出的画像写入用户记录。
type Store struct {
	db *gorm.DB
}

// NewStore 构造画像存储。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

const saveRetries = 3

// Save 用画像整体替换用户的技能/经历/教育/成就字段，并把状态置为 READY。
// 覆盖式写入保证重复处理同一份简历是幂等的。
// 并发控制：对 ProfileUpdatedAt 做 CAS，与画像编辑端互不丢失更新。
func (s *Store) Save(ctx context.Context, userID uint, p CandidateProfile) error {
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	experiences, err := json.Marshal(p.Experiences)
	if err != nil {
		return fmt.Errorf("marshal experiences: %w", err)
	}
	achievements, err := json.Marshal(p.Achievements)
	if err != nil {
		return fmt.Errorf("marshal achievements: %w", err)
	}

	for attempt := 0; attempt < saveRetries; attempt++ {
		var user database.User
		if err := s.db.WithContext(ctx).Select("id", "profile_updated_at").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load user %d: %w", userID, err)
		}

		now := time.Now()
		updates := map[string]any{
			"skills":             skills,
			"experiences":        experiences,
			"education":          p.Education,
			"achievements":       achievements,
			"profile_status":     database.ProfileStatusReady,
			"profile_updated_at": now,
		}

		query := s.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID)
		if user.ProfileUpdatedAt == nil {
			query = query.Where("profile_updated_at IS NULL")
		} else {
			query = query.Where("profile_updated_at = ?", *user.ProfileUpdatedAt)
		}

		res := query.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update profile: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// CAS 失败说明有并发写入，重读后重试。
	}

	return fmt.Errorf("update profile for user %d: too many concurrent updates", userID)
}

// MarkProcessing 在任务入队时把画像状态置为 PROCESSING，并记录本次受理的文档引用
// （供后续下载接口回放）。
func (s *Store) MarkProcessing(ctx context.Context, userID uint, documentRef string) error {
	res := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"profile_status": database.ProfileStatusProcessing,
			"resume_ref":     documentRef,
		})
	if res.Error != nil {
		return fmt.Errorf("set profile status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkFailed 在任务永久失败时把画像状态置为 FAILED（操作员可见，用户侧由前端轮询感知）。
func (s *Store) MarkFailed(ctx context.Context, userID uint) error {
	return s.setStatus(ctx, userID, database.ProfileStatusFailed)
}

func (s *Store) setStatus(ctx context.Context, userID uint, status string) error {
	res := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Update("profile_status", status)
	if res.Error != nil {
		return fmt.Errorf("set profile status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
