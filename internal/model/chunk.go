package model

import "time"

// DocumentChunk 对应 document_chunks 表，是一个可嵌入的文本片段。
// 同一文档的所有分块共享一个 Generation，整组替换。
type DocumentChunk struct {
	ID           uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID   string            `gorm:"type:char(36);not null;index" json:"document_id"`
	ChunkIndex   int               `gorm:"not null" json:"chunk_index"`
	Generation   string            `gorm:"type:char(36);not null" json:"generation"`
	Content      string            `gorm:"type:text;not null" json:"content"`
	Vector       []float32         `gorm:"serializer:json;type:json" json:"-"`
	ModelVersion string            `gorm:"type:varchar(64)" json:"model_version"`
	UserID       uint              `gorm:"not null;index" json:"user_id"`
	Metadata     map[string]string `gorm:"serializer:json;type:json" json:"metadata"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// IndexedChunk 是写入 ANN 索引（Elasticsearch / Qdrant）的载荷。
type IndexedChunk struct {
	ChunkID      string    `json:"chunk_id"` // documentID_chunkIndex
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Generation   string    `json:"generation"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}
