package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Shape 描述补全结果必须满足的结构约束（JSON Schema 文档）。
type Shape struct {
	Name   string
	Schema string
}

// Instructions 生成嵌入 Prompt 的机器可读格式约定。
func (s Shape) Instructions() string {
	var b strings.Builder
	b.WriteString("Return ONLY a raw JSON object, with no markdown fences and no commentary. ")
	b.WriteString("Output must start with { and end with }. ")
	b.WriteString("The object must conform to this JSON Schema:\n")
	b.WriteString(s.Schema)
	return b.String()
}

// Parse 把后端原始文本解析并校验为符合 shape 的 JSON 文档。
// 纯函数：剥掉 Markdown 围栏、截取最外层对象、做 Schema 校验。
// 成功时返回的 JSON 一定通过了 shape 校验。
func Parse(text string, shape Shape) (json.RawMessage, error) {
	cleaned := stripMarkdownFences(text)
	cleaned = extractObject(cleaned)
	if cleaned == "" {
		return nil, &ParseError{Shape: shape.Name, Err: fmt.Errorf("no JSON object found in response")}
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, &ParseError{Shape: shape.Name, Err: fmt.Errorf("response is not valid JSON")}
	}

	schemaLoader := gojsonschema.NewStringLoader(shape.Schema)
	documentLoader := gojsonschema.NewStringLoader(cleaned)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, &ParseError{Shape: shape.Name, Err: fmt.Errorf("schema validation: %w", err)}
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			violations = append(violations, fmt.Sprintf("%s: %s", field, desc.Description()))
		}
		return nil, &ParseError{Shape: shape.Name, Violations: violations}
	}

	return json.RawMessage(cleaned), nil
}

// stripMarkdownFences 去掉模型习惯性包裹的 ```json ... ``` 围栏。
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// 首行可能是语言标识，跳过。
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}

// extractObject 截取首个 '{' 到最后一个 '}' 之间的内容，容忍前后多余的说明文字。
func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}
