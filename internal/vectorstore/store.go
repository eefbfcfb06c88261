// Package vectorstore 持久化文档分块及其向量，提供索引加速的相似度检索和暴力检索兜底。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/pkg/log"
)

const (
	DefaultFallbackLimit = 1000

	// 索引路径的候选倍数与返回上限倍数（相对 limit）。
	candidateFactor = 10
	resultFactor    = 3
)

var (
	ErrInvalidID         = errors.New("malformed document id")
	ErrLengthMismatch    = errors.New("chunks and vectors differ in length")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrNoVectors         = errors.New("no chunk has a vector")
)

// Store 以 MySQL 中的分块为准，ANN 索引只是加速路径。
type Store struct {
	chunks        repository.ChunkRepository
	index         Index
	fallbackLimit int
	dimensions    int
	modelVersion  string
}

type Option func(*Store)

// WithIndex 设置 ANN 索引，为 nil 时始终走暴力检索。
func WithIndex(index Index) Option {
	return func(s *Store) { s.index = index }
}

func WithFallbackLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fallbackLimit = n
		}
	}
}

// WithDimensions 要求写入的向量为固定维度，0 表示只要求同一批向量维度一致。
func WithDimensions(d int) Option {
	return func(s *Store) { s.dimensions = d }
}

func WithModelVersion(v string) Option {
	return func(s *Store) { s.modelVersion = v }
}

func NewStore(chunks repository.ChunkRepository, opts ...Option) *Store {
	s := &Store{chunks: chunks, fallbackLimit: DefaultFallbackLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateID 检查文档 id 是否为合法的 UUID。
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Replace 以新的一代分块整体替换文档的旧分块。向量为 nil 的分块被跳过（保留原始序号）；
// 一个都不剩时返回 ErrNoVectors，且不做任何修改。
func (s *Store) Replace(ctx context.Context, documentID string, chunks []string, vectors [][]float32, metadata map[string]string, userID uint) error {
	if err := ValidateID(documentID); err != nil {
		return err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}

	dims := s.dimensions
	generation := uuid.NewString()
	rows := make([]*model.DocumentChunk, 0, len(chunks))
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if dims == 0 {
			dims = len(vec)
		}
		if len(vec) != dims {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(vec), dims)
		}
		rows = append(rows, &model.DocumentChunk{
			DocumentID:   documentID,
			ChunkIndex:   i,
			Generation:   generation,
			Content:      chunks[i],
			Vector:       vec,
			ModelVersion: s.modelVersion,
			UserID:       userID,
			Metadata:     metadata,
		})
	}
	if len(rows) == 0 {
		return ErrNoVectors
	}

	if err := s.chunks.ReplaceForDocument(ctx, documentID, rows); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	log.Infof("[VectorStore] 文档 %s 写入 %d/%d 个分块, generation: %s", documentID, len(rows), len(chunks), generation)

	if s.index == nil {
		return nil
	}
	indexed := make([]model.IndexedChunk, len(rows))
	for i, r := range rows {
		indexed[i] = model.IndexedChunk{
			ChunkID:      fmt.Sprintf("%s_%d", documentID, r.ChunkIndex),
			DocumentID:   documentID,
			ChunkIndex:   r.ChunkIndex,
			Generation:   generation,
			Content:      r.Content,
			Vector:       r.Vector,
			ModelVersion: r.ModelVersion,
			UserID:       userID,
		}
	}
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	if err := s.index.Upsert(ctx, indexed); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// DeleteByDocument 删除文档的全部分块，可重复调用。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ValidateID(documentID); err != nil {
		return err
	}
	if err := s.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if s.index != nil {
		if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
			return fmt.Errorf("delete index entries: %w", err)
		}
	}
	return nil
}

// Search 先走索引路径，索引不可用或出错时确定性地回退到暴力检索。
// 两条路径使用相同的相似度定义，结果按得分降序，至多 3*limit 条。
func (s *Store) Search(ctx context.Context, vector []float32, limit int, threshold float64, userID uint) ([]model.SearchHit, error) {
	if limit <= 0 || len(vector) == 0 {
		return nil, nil
	}
	if s.index != nil {
		hits, err := s.searchIndex(ctx, vector, limit, threshold, userID)
		if err == nil {
			return hits, nil
		}
		log.Warnw("[VectorStore] 索引检索失败，回退到暴力检索", "error", err)
	}
	return s.searchFallback(ctx, vector, limit, threshold, userID)
}

func (s *Store) searchIndex(ctx context.Context, vector []float32, limit int, threshold float64, userID uint) ([]model.SearchHit, error) {
	raw, err := s.index.Search(ctx, vector, limit*candidateFactor, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	seen := make(map[string]struct{})
	for _, h := range raw {
		if _, ok := seen[h.DocumentID]; !ok {
			seen[h.DocumentID] = struct{}{}
			ids = append(ids, h.DocumentID)
		}
	}
	current, err := s.chunks.CurrentGenerations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load generations: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(raw))
	for _, h := range raw {
		if h.Score < threshold {
			continue
		}
		// 只保留当前代次的分块，已删除文档的残留条目也会被过滤
		if gen, ok := current[h.DocumentID]; !ok || gen != h.Generation {
			continue
		}
		hits = append(hits, h.SearchHit)
	}
	return rank(hits, limit*resultFactor), nil
}

func (s *Store) searchFallback(ctx context.Context, vector []float32, limit int, threshold float64, userID uint) ([]model.SearchHit, error) {
	candidates, err := s.chunks.FindCandidates(ctx, userID, s.fallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(candidates))
	for _, c := range candidates {
		score := Cosine(vector, c.Vector)
		if score < threshold {
			continue
		}
		hits = append(hits, model.SearchHit{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Score:      score,
		})
	}
	return rank(hits, limit*resultFactor), nil
}

// rank 按得分稳定降序排序并截断。
func rank(hits []model.SearchHit, n int) []model.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
