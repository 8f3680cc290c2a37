package profile

import (
	"fmt"

	"refermail/internal/llm"
)

// profileSchema 是画像提取结果的 JSON Schema。
// 所有字段可选；"至少一项非空"的软失败规则由 Pipeline 另行判断。
const profileSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "email": {"type": "string"},
    "phone": {"type": "string"},
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "category": {"type": "string"}
        },
        "required": ["name"]
      }
    },
    "experiences": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "role": {"type": "string"},
          "company": {"type": "string"},
          "start": {"type": "string"},
          "end": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    },
    "education": {"type": "string"},
    "achievements": {"type": "array", "items": {"type": "string"}}
  }
}`

// Shape 返回画像提取的结构约束。
func Shape() llm.Shape {
	return llm.Shape{Name: "candidate_profile", Schema: profileSchema}
}

// BuildPrompt 组装画像提取 Prompt。
func BuildPrompt(resumeText string) string {
	return fmt.Sprintf(`You are an expert resume parser.
Extract a structured candidate profile from the resume text below.

Rules:
1. Only use information present in the resume. Never invent skills or experiences.
2. Keep skills and experiences in the order they appear in the resume.
3. Dates go into "start"/"end" as short strings exactly as written (e.g. "2021-03", "Jun 2019", "present").
4. Summarize the education section into a single "education" string.
5. Omit any field you cannot find.

Resume text:
---
%s
---`, resumeText)
}
