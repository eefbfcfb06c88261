// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"knowledgelink-go/internal/model"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.Document, error)
	// ListByUser 按创建时间倒序分页查询。
	ListByUser(ctx context.Context, userID uint, skip, limit int) ([]*model.Document, error)
	// Update 和 UpdateStatus 只更新已存在的记录，记录已删除时返回 ErrNotFound。
	Update(ctx context.Context, doc *model.Document) error
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, lastError string) error
	Delete(ctx context.Context, id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDs 批量查询，不存在的 id 会被忽略。
func (r *documentRepository) FindByIDs(ctx context.Context, ids []string) ([]*model.Document, error) {
	var docs []*model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error
	return docs, err
}

func (r *documentRepository) ListByUser(ctx context.Context, userID uint, skip, limit int) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// Update 更新文档的全部字段。与 Save 不同，记录不存在时不会重新插入。
func (r *documentRepository) Update(ctx context.Context, doc *model.Document) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ?", doc.ID).
		Select("*").Omit("id", "created_at").
		Updates(doc)
	if res.Error != nil {
		return res.Error
	}
	return r.checkAffected(ctx, doc.ID, res.RowsAffected)
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, lastError string) error {
	res := r.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_error": lastError})
	if res.Error != nil {
		return res.Error
	}
	return r.checkAffected(ctx, id, res.RowsAffected)
}

// checkAffected 区分"记录不存在"和"值没有变化"：MySQL 对后者同样报告 0 行受影响。
func (r *documentRepository) checkAffected(ctx context.Context, id string, affected int64) error {
	if affected > 0 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除文档记录，分块需由调用方通过向量库删除。
func (r *documentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}
