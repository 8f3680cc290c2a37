package genmail

import (
	"errors"
	"fmt"
	"strings"
)

// RequestType 是生成请求的判别标签。
type RequestType string

// 四种外联场景。cold/tailored 创建新线程，followup/thankyou 追加到已有线程。
const (
	TypeCold     RequestType = "cold"
	TypeTailored RequestType = "tailored"
	TypeFollowup RequestType = "followup"
	TypeThankyou RequestType = "thankyou"
)

// GenerationRequest 是四种场景的标签联合。
// 字段按标签生效：联系人信息用于 cold/tailored，职位信息仅 tailored，
// ThreadID 仅 followup/thankyou。
type GenerationRequest struct {
	Type RequestType `json:"type"`

	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail"`
	CompanyName  string `json:"companyName"`
	ContactRole  string `json:"contactRole"`

	JobIDs         []string `json:"jobs"`
	JobDescription string   `json:"jobDescription"`

	ThreadID uint `json:"threadId"`

	// Template 是用户保存的邮件模板文本，可选，仅 cold/tailored。
	Template string `json:"template"`
}

// Validate 在策略执行之前检查标签所要求的字段。
func (r *GenerationRequest) Validate() error {
	switch r.Type {
	case TypeCold:
		return r.requireContact()
	case TypeTailored:
		if err := r.requireContact(); err != nil {
			return err
		}
		if len(r.JobIDs) == 0 {
			return errors.New("tailored request requires at least one job id")
		}
		for _, id := range r.JobIDs {
			if strings.TrimSpace(id) == "" {
				return errors.New("tailored request contains an empty job id")
			}
		}
		if strings.TrimSpace(r.JobDescription) == "" {
			return errors.New("tailored request requires a job description")
		}
		return nil
	case TypeFollowup, TypeThankyou:
		if r.ThreadID == 0 {
			return fmt.Errorf("%s request requires a thread id", r.Type)
		}
		return nil
	case "":
		return errors.New("request type is required")
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
}

// CreatesThread 报告该请求是否会创建新线程。
func (r *GenerationRequest) CreatesThread() bool {
	return r.Type == TypeCold || r.Type == TypeTailored
}

func (r *GenerationRequest) requireContact() error {
	if strings.TrimSpace(r.ContactName) == "" {
		return fmt.Errorf("%s request requires a contact name", r.Type)
	}
	if strings.TrimSpace(r.CompanyName) == "" {
		return fmt.Errorf("%s request requires a company name", r.Type)
	}
	return nil
}

// GeneratedEmail 是策略的输出：主题与正文均非空。
type GeneratedEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
