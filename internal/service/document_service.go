package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/internal/vectorstore"
	"knowledgelink-go/pkg/log"
	"knowledgelink-go/pkg/tasks"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 100
)

var (
	ErrInvalidID        = errors.New("invalid document id")
	ErrInvalidURL       = errors.New("url must be an absolute http(s) url")
	ErrDocumentNotFound = errors.New("document not found")
)

// DocumentData 是文档在向量库中的数据。
type DocumentData interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// SnapshotRemover 删除文档的原始页面快照。
type SnapshotRemover interface {
	Remove(ctx context.Context, documentID string) error
}

// SaveRequest 是保存链接的参数，Title/Description 为空时由摄取流程填充。
type SaveRequest struct {
	URL         string
	Title       string
	Description string
	Tags        []string
	UserID      uint
}

// DocumentService 接口定义了链接管理相关的业务操作。
type DocumentService interface {
	Save(ctx context.Context, req SaveRequest) (*model.Document, error)
	List(ctx context.Context, userID uint, skip, limit int) ([]*model.Document, error)
	Get(ctx context.Context, id string, userID uint) (*model.Document, error)
	Delete(ctx context.Context, id string, userID uint) error
	Reprocess(ctx context.Context, id string, userID uint, useSnapshot bool) (*model.Document, error)
	DeleteDocumentData(ctx context.Context, id string) error
}

type documentService struct {
	docs      repository.DocumentRepository
	data      DocumentData
	queue     tasks.Queue
	snapshots SnapshotRemover
}

// NewDocumentService 创建一个新的 DocumentService 实例，snapshots 可以为 nil。
func NewDocumentService(docs repository.DocumentRepository, data DocumentData, queue tasks.Queue, snapshots SnapshotRemover) DocumentService {
	return &documentService{docs: docs, data: data, queue: queue, snapshots: snapshots}
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return raw, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Save 创建文档并投递摄取任务。投递失败不会让保存失败，文档会直接标记为 failed。
func (s *documentService) Save(ctx context.Context, req SaveRequest) (*model.Document, error) {
	u, err := validateURL(req.URL)
	if err != nil {
		return nil, err
	}
	doc := &model.Document{
		ID:          uuid.NewString(),
		URL:         u,
		Title:       model.StringPtr(strings.TrimSpace(req.Title)),
		Description: model.StringPtr(strings.TrimSpace(req.Description)),
		Tags:        cleanTags(req.Tags),
		ContentKind: model.KindUnknown,
		Status:      model.StatusPending,
		UserID:      req.UserID,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	log.Infof("[DocumentService] 链接已保存, DocumentID: %s, URL: %s, UserID: %d", doc.ID, doc.URL, doc.UserID)

	s.enqueue(ctx, doc, false)
	return doc, nil
}

func (s *documentService) enqueue(ctx context.Context, doc *model.Document, useSnapshot bool) {
	task := tasks.IngestTask{DocumentID: doc.ID, URL: doc.URL, UserID: doc.UserID, UseSnapshot: useSnapshot}
	err := s.queue.Enqueue(ctx, task)
	if err == nil {
		return
	}
	log.Errorf("[DocumentService] 投递摄取任务失败, DocumentID: %s, Error: %v", doc.ID, err)
	reason := "enqueue ingest task: " + err.Error()
	if uerr := s.docs.UpdateStatus(ctx, doc.ID, model.StatusFailed, reason); uerr != nil {
		log.Errorf("[DocumentService] 更新文档状态失败, DocumentID: %s, Error: %v", doc.ID, uerr)
		return
	}
	doc.Status, doc.LastError = model.StatusFailed, reason
}

func (s *documentService) List(ctx context.Context, userID uint, skip, limit int) ([]*model.Document, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	docs, err := s.docs.ListByUser(ctx, userID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Get 返回用户自己的文档，别人的文档与不存在的文档一样返回 ErrDocumentNotFound。
func (s *documentService) Get(ctx context.Context, id string, userID uint) (*model.Document, error) {
	if err := vectorstore.ValidateID(id); err != nil {
		return nil, ErrInvalidID
	}
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete 先删除分块和快照，再删除文档记录，最后再清理一次分块。
// 第二次清理覆盖删除记录前正在写入分块的摄取任务；记录删除之后才写入的分块由摄取任务自己清理。
func (s *documentService) Delete(ctx context.Context, id string, userID uint) error {
	doc, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.DeleteDocumentData(ctx, doc.ID); err != nil {
		return err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Remove(ctx, doc.ID); err != nil {
			log.Warnf("[DocumentService] 删除快照失败, DocumentID: %s, Error: %v", doc.ID, err)
		}
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.DeleteDocumentData(ctx, doc.ID); err != nil {
		log.Errorf("[DocumentService] 删除记录后清理分块失败, DocumentID: %s, Error: %v", doc.ID, err)
	}
	log.Infof("[DocumentService] 文档已删除, DocumentID: %s", doc.ID)
	return nil
}

// Reprocess 重新投递摄取任务，useSnapshot 时使用保存的原始页面。
func (s *documentService) Reprocess(ctx context.Context, id string, userID uint, useSnapshot bool) (*model.Document, error) {
	doc, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.StatusPending, ""); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("reset status: %w", err)
	}
	doc.Status, doc.LastError = model.StatusPending, ""
	s.enqueue(ctx, doc, useSnapshot)
	return doc, nil
}

// DeleteDocumentData 删除文档的全部分块，可重复调用。
func (s *documentService) DeleteDocumentData(ctx context.Context, id string) error {
	if err := s.data.DeleteByDocument(ctx, id); err != nil {
		if errors.Is(err, vectorstore.ErrInvalidID) {
			return ErrInvalidID
		}
		return fmt.Errorf("delete document data: %w", err)
	}
	return nil
}
