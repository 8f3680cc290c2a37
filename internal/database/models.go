package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 线程状态（对外持久化的生命周期词汇表）。
const (
	ThreadStatusPending        = "PENDING"
	ThreadStatusFirstFollowup  = "FIRST_FOLLOWUP"
	ThreadStatusSecondFollowup = "SECOND_FOLLOWUP"
	ThreadStatusThirdFollowup  = "THIRD_FOLLOWUP"
	ThreadStatusClosed         = "CLOSED"
	ThreadStatusSent           = "SENT"
	ThreadStatusReferred       = "REFERRED"
	ThreadStatusDeleted        = "DELETED"
)

// 线程类型，由创建线程的生成请求决定（followup/thankyou 不会创建新线程）。
const (
	ThreadTypeCold     = "COLD"
	ThreadTypeTailored = "TAILORED"
)

// 消息生命周期。
const (
	MessageStatusDraft = "DRAFT"
	MessageStatusSent  = "SENT"
)

// 简历解析状态（User.ProfileStatus）。
const (
	ProfileStatusNone       = "NONE"
	ProfileStatusProcessing = "PROCESSING"
	ProfileStatusReady      = "READY"
	ProfileStatusFailed     = "FAILED"
)

// User 表示系统中的账号信息，画像字段由后台 worker 从简历中提取后写入。
// ProfileUpdatedAt 用于画像更新的 CAS（避免 worker 与画像编辑端互相覆盖）。
type User struct {
	gorm.Model
	Username         string         `gorm:"uniqueIndex;size:64"`
	PasswordHash     string         `gorm:"size:255"`
	Email            string         `gorm:"size:255"`
	Skills           datatypes.JSON `gorm:"type:jsonb"`
	Experiences      datatypes.JSON `gorm:"type:jsonb"`
	Education        string         `gorm:"type:text"`
	Achievements     datatypes.JSON `gorm:"type:jsonb"`
	ResumeRef        string         `gorm:"size:512"`
	ProfileStatus    string         `gorm:"size:16;default:NONE"`
	ProfileUpdatedAt *time.Time
	Threads          []Thread `gorm:"constraint:OnDelete:CASCADE"`
}

// Employee 表示一次外联的联系人。Email 可为空：没有邮箱时无法去重，
// 每次保存都会新建一条记录（与产品现状保持一致）。
type Employee struct {
	gorm.Model
	Name    string  `gorm:"size:255"`
	Email   *string `gorm:"index;size:255"`
	Company string  `gorm:"size:255"`
	Role    string  `gorm:"size:255"`
}

// Thread 表示与某个联系人的一次外联会话，持有按时间排序的消息列表。
type Thread struct {
	gorm.Model
	UserID      uint     `gorm:"index"`
	User        User     `gorm:"constraint:OnDelete:CASCADE"`
	EmployeeID  uint     `gorm:"index"`
	Employee    Employee `gorm:"constraint:OnDelete:CASCADE"`
	Type        string   `gorm:"size:16"`
	Status      string   `gorm:"size:32"`
	LastUpdated time.Time
	Messages    []Message `gorm:"constraint:OnDelete:CASCADE"`
	Jobs        []Job     `gorm:"many2many:thread_jobs"`
}

// Message 属于且仅属于一个线程。ExternalMailID 在外部邮件系统发送后回填。
type Message struct {
	gorm.Model
	ThreadID       uint    `gorm:"index"`
	Subject        string  `gorm:"size:512"`
	Body           string  `gorm:"type:text"`
	FromUser       bool    `gorm:"default:true"`
	Status         string  `gorm:"size:16;default:DRAFT"`
	ExternalMailID *string `gorm:"size:128"`
}

// Job 表示外部职位引用，按 ExternalID 去重；与线程多对多。
type Job struct {
	gorm.Model
	ExternalID  string `gorm:"uniqueIndex;size:128"`
	Description string `gorm:"type:text"`
}

// AllModels 返回 AutoMigrate 需要的全部模型。
func AllModels() []any {
	return []any{&User{}, &Employee{}, &Thread{}, &Message{}, &Job{}}
}
