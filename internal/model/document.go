// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// ContentKind 是根据 Content-Type 推断出的内容类型。
type ContentKind string

const (
	KindHTML     ContentKind = "html"
	KindPDF      ContentKind = "pdf"
	KindText     ContentKind = "text"
	KindJSON     ContentKind = "json"
	KindMarkdown ContentKind = "markdown"
	KindUnknown  ContentKind = "unknown"
)

// DocumentStatus 记录后台摄取进度。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document 对应 documents 表，代表用户保存的一个链接。
// Title/Description/Summary/Content 在摄取完成前为 NULL。
type Document struct {
	ID          string            `gorm:"type:char(36);primaryKey" json:"id"`
	URL         string            `gorm:"type:varchar(2048);not null" json:"url"`
	Title       *string           `gorm:"type:varchar(512)" json:"title"`
	Description *string           `gorm:"type:text" json:"description"`
	Summary     *string           `gorm:"type:text" json:"summary"`
	Content     *string           `gorm:"type:longtext" json:"content"`
	Tags        []string          `gorm:"serializer:json;type:json" json:"tags"`
	ContentKind ContentKind       `gorm:"type:varchar(16);not null;default:'unknown'" json:"content_type"`
	WordCount   int               `gorm:"not null;default:0" json:"word_count"`
	Metadata    map[string]string `gorm:"serializer:json;type:json" json:"metadata"`
	Status      DocumentStatus    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	LastError   string            `gorm:"type:varchar(1024)" json:"last_error,omitempty"`
	UserID      uint              `gorm:"not null;index:idx_documents_user_created,priority:1" json:"user_id"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index:idx_documents_user_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// HasContent 报告摄取是否提取到了正文。
func (d *Document) HasContent() bool {
	return d.Content != nil && *d.Content != ""
}

// StringPtr 返回 s 的指针，空串返回 nil，用于可空文本列。
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref 返回 *string 的值，nil 时为空串。
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
