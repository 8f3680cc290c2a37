package genmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"refermail/internal/database"
	"refermail/internal/llm"
	"refermail/internal/profile"
)

// ErrThreadNotFound 表示线程不存在或不属于请求用户。
var ErrThreadNotFound = errors.New("thread not found")

// ErrEmptyThread 表示线程没有任何消息（thankyou 场景要求至少一条）。
var ErrEmptyThread = errors.New("thread has no messages")

// Completer 发起受 Shape 约束的补全调用。
type Completer interface {
	Complete(ctx context.Context, prompt string, shape llm.Shape) (json.RawMessage, error)
}

// Generator 按请求标签分派到对应策略，产出邮件草稿。
// 只读不写：持久化由 drafts.Store 负责。
type Generator struct {
	db        *gorm.DB
	completer Completer
	logger    *slog.Logger
}

// NewGenerator 构造生成器。
func NewGenerator(db *gorm.DB, completer Completer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{db: db, completer: completer, logger: logger}
}

type transcriptMessage struct {
	Subject  string
	Body     string
	FromUser bool
}

// Generate 执行与请求标签对应的策略。
func (g *Generator) Generate(ctx context.Context, userID uint, req GenerationRequest) (GeneratedEmail, error) {
	if err := req.Validate(); err != nil {
		return GeneratedEmail{}, err
	}

	switch req.Type {
	case TypeCold:
		return g.generateFromProfile(ctx, userID, req, buildColdPrompt)
	case TypeTailored:
		return g.generateFromProfile(ctx, userID, req, buildTailoredPrompt)
	case TypeFollowup:
		return g.generateFollowup(ctx, userID, req)
	case TypeThankyou:
		return g.generateThankyou(ctx, userID, req)
	default:
		// Validate 已经拒绝未知标签，这里只防御枚举扩展时漏配。
		return GeneratedEmail{}, fmt.Errorf("unhandled request type %q", req.Type)
	}
}

func (g *Generator) generateFromProfile(
	ctx context.Context,
	userID uint,
	req GenerationRequest,
	buildPrompt func(GenerationRequest, string) string,
) (GeneratedEmail, error) {
	sender, err := g.loadSenderContext(ctx, userID)
	if err != nil {
		return GeneratedEmail{}, err
	}
	return g.complete(ctx, buildPrompt(req, sender))
}

func (g *Generator) generateFollowup(ctx context.Context, userID uint, req GenerationRequest) (GeneratedEmail, error) {
	history, err := g.loadThreadHistory(ctx, userID, req.ThreadID)
	if err != nil {
		return GeneratedEmail{}, err
	}
	return g.complete(ctx, buildFollowupPrompt(threadTranscript(history)))
}

func (g *Generator) generateThankyou(ctx context.Context, userID uint, req GenerationRequest) (GeneratedEmail, error) {
	history, err := g.loadThreadHistory(ctx, userID, req.ThreadID)
	if err != nil {
		return GeneratedEmail{}, err
	}
	if len(history) == 0 {
		return GeneratedEmail{}, ErrEmptyThread
	}
	return g.complete(ctx, buildThankyouPrompt(history[len(history)-1]))
}

func (g *Generator) complete(ctx context.Context, prompt string) (GeneratedEmail, error) {
	doc, err := g.completer.Complete(ctx, prompt, EmailShape())
	if err != nil {
		return GeneratedEmail{}, err
	}

	var email GeneratedEmail
	if err := json.Unmarshal(doc, &email); err != nil {
		return GeneratedEmail{}, fmt.Errorf("decode generated email: %w", err)
	}
	return email, nil
}

// loadSenderContext 从用户记录读取画像字段（读操作，不走提取流水线）。
func (g *Generator) loadSenderContext(ctx context.Context, userID uint) (string, error) {
	var user database.User
	if err := g.db.WithContext(ctx).
		Select("id", "skills", "experiences", "education").
		First(&user, userID).Error; err != nil {
		return "", fmt.Errorf("load user profile: %w", err)
	}

	var skills []profile.Skill
	if len(user.Skills) > 0 {
		if err := json.Unmarshal(user.Skills, &skills); err != nil {
			g.logger.Warn("decode stored skills failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
	}
	var experiences []profile.Experience
	if len(user.Experiences) > 0 {
		if err := json.Unmarshal(user.Experiences, &experiences); err != nil {
			g.logger.Warn("decode stored experiences failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
	}

	return senderContext(skills, experiences, user.Education), nil
}

// loadThreadHistory 校验线程归属并按时间顺序加载消息。
func (g *Generator) loadThreadHistory(ctx context.Context, userID, threadID uint) ([]transcriptMessage, error) {
	var thread database.Thread
	err := g.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", threadID, userID).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("load thread: %w", err)
	}

	var messages []database.Message
	if err := g.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load thread messages: %w", err)
	}

	history := make([]transcriptMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, transcriptMessage{
			Subject:  m.Subject,
			Body:     m.Body,
			FromUser: m.FromUser,
		})
	}
	return history, nil
}
