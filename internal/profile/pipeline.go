package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"refermail/internal/docfetch"
	"refermail/internal/extract"
	"refermail/internal/llm"
)

// ErrEmptyProfile 表示提取结果中技能、经历、教育全部为空（软失败）。
var ErrEmptyProfile = errors.New("extracted profile is empty")

// Fetcher 把文档引用解析为原始字节。
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Completer 发起受 Shape 约束的补全调用。
type Completer interface {
	Complete(ctx context.Context, prompt string, shape llm.Shape) (json.RawMessage, error)
}

// Pipeline 组合 抓取→解析→补全，把简历文档引用转换为候选人画像。
type Pipeline struct {
	fetcher   Fetcher
	extract   func(data []byte) (string, error)
	completer Completer
	logger    *slog.Logger
}

// NewPipeline 构造提取流水线。
func NewPipeline(fetcher Fetcher, completer Completer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:   fetcher,
		extract:   extract.Text,
		completer: completer,
		logger:    logger,
	}
}

// Extract 对文档引用执行完整的画像提取。
// 错误原样透出各阶段的分类（引用/下载/格式/补全），由调用方决定重试策略。
func (p *Pipeline) Extract(ctx context.Context, documentRef string) (CandidateProfile, error) {
	var profile CandidateProfile

	data, err := p.fetcher.Fetch(ctx, documentRef)
	if err != nil {
		return profile, fmt.Errorf("fetch document: %w", err)
	}

	text, err := p.extract(data)
	if err != nil {
		return profile, fmt.Errorf("extract text: %w", err)
	}
	p.logger.Debug("resume text extracted", slog.Int("chars", len(text)))

	doc, err := p.completer.Complete(ctx, BuildPrompt(text), Shape())
	if err != nil {
		return profile, fmt.Errorf("complete profile extraction: %w", err)
	}

	if err := json.Unmarshal(doc, &profile); err != nil {
		return profile, fmt.Errorf("decode profile: %w", err)
	}

	profile.Normalize()
	if profile.Empty() {
		return profile, ErrEmptyProfile
	}
	return profile, nil
}

// IsUserInputError 判断提取错误是否属于用户可自行修复的一类
// （链接无效、下载失败、文件无法解析）。这类错误不应触发队列重试。
func IsUserInputError(err error) bool {
	var downloadErr *docfetch.DownloadError
	return errors.Is(err, docfetch.ErrUnresolvableReference) ||
		errors.As(err, &downloadErr) ||
		errors.Is(err, extract.ErrUnsupportedFormat) ||
		errors.Is(err, extract.ErrCorruptDocument)
}
