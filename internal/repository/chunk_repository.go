package repository

import (
	"context"

	"gorm.io/gorm"

	"knowledgelink-go/internal/model"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	// ReplaceForDocument 在一个事务内删除文档的旧分块并写入新分块。
	ReplaceForDocument(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// FindCandidates 按 id 升序返回至多 limit 个分块，userID 为 0 时不按用户过滤。
	FindCandidates(ctx context.Context, userID uint, limit int) ([]*model.DocumentChunk, error)
	// CurrentGenerations 返回每个文档当前的分块代次。
	CurrentGenerations(ctx context.Context, documentIDs []string) (map[string]string, error)
	CountByDocument(ctx context.Context, documentID string) (int64, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) ReplaceForDocument(ctx context.Context, documentID string, chunks []*model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error // 每100条记录一批
	})
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error
}

func (r *chunkRepository) FindCandidates(ctx context.Context, userID uint, limit int) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	q := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Find(&chunks).Error
	return chunks, err
}

func (r *chunkRepository) CurrentGenerations(ctx context.Context, documentIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		DocumentID string
		Generation string
	}
	err := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).
		Distinct("document_id", "generation").
		Where("document_id IN ?", documentIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.DocumentID] = row.Generation
	}
	return out, nil
}

func (r *chunkRepository) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}
