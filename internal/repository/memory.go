package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"knowledgelink-go/internal/model"
)

// Ensure memory stores implement the interfaces.
var (
	_ DocumentRepository = (*MemoryDocumentRepository)(nil)
	_ ChunkRepository    = (*MemoryChunkRepository)(nil)
)

// MemoryDocumentRepository 是 DocumentRepository 的内存实现，用于测试和未配置 MySQL 的本地运行。
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]*model.Document)}
}

func cloneDocument(d *model.Document) *model.Document {
	c := *d
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Create 与 gorm 的 autoCreateTime/autoUpdateTime 行为一致，回填时间戳。
func (r *MemoryDocumentRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *MemoryDocumentRepository) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(d), nil
}

func (r *MemoryDocumentRepository) FindByIDs(_ context.Context, ids []string) ([]*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Document
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			out = append(out, cloneDocument(d))
		}
	}
	return out, nil
}

func (r *MemoryDocumentRepository) ListByUser(_ context.Context, userID uint, skip, limit int) ([]*model.Document, error) {
	r.mu.RLock()
	var all []*model.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			all = append(all, cloneDocument(d))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Update 与 gorm 实现一致：记录已删除时返回 ErrNotFound，不会重新插入。
func (r *MemoryDocumentRepository) Update(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	doc.CreatedAt = old.CreatedAt
	doc.UpdatedAt = time.Now()
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *MemoryDocumentRepository) UpdateStatus(_ context.Context, id string, status model.DocumentStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.LastError = lastError
	d.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDocumentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

// MemoryChunkRepository 是 ChunkRepository 的内存实现。
type MemoryChunkRepository struct {
	mu     sync.RWMutex
	nextID uint
	chunks []*model.DocumentChunk
}

func NewMemoryChunkRepository() *MemoryChunkRepository {
	return &MemoryChunkRepository{}
}

func (r *MemoryChunkRepository) ReplaceForDocument(_ context.Context, documentID string, chunks []*model.DocumentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(documentID)
	for _, c := range chunks {
		r.nextID++
		cp := *c
		cp.ID = r.nextID
		r.chunks = append(r.chunks, &cp)
	}
	return nil
}

func (r *MemoryChunkRepository) deleteLocked(documentID string) {
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
}

func (r *MemoryChunkRepository) DeleteByDocument(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(documentID)
	return nil
}

// FindCandidates 返回的顺序即写入顺序，与按自增 id 升序一致。
func (r *MemoryChunkRepository) FindCandidates(_ context.Context, userID uint, limit int) ([]*model.DocumentChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.DocumentChunk
	for _, c := range r.chunks {
		if userID != 0 && c.UserID != userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryChunkRepository) CurrentGenerations(_ context.Context, documentIDs []string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		want[id] = struct{}{}
	}
	out := make(map[string]string)
	for _, c := range r.chunks {
		if _, ok := want[c.DocumentID]; ok {
			out[c.DocumentID] = c.Generation
		}
	}
	return out, nil
}

func (r *MemoryChunkRepository) CountByDocument(_ context.Context, documentID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, c := range r.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}
