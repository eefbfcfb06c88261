// Package service 提供了链接保存与语义检索的业务逻辑。
package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"knowledgelink-go/internal/config"
	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/pkg/embedding"
	"knowledgelink-go/pkg/log"
)

const maxSnippets = 3

// ErrSearchUnavailable 表示 embedding 服务未配置，检索功能不可用。
var ErrSearchUnavailable = errors.New("semantic search is unavailable: embedding provider is not configured")

// HitSearcher 是向量库的检索接口。
type HitSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float64, userID uint) ([]model.SearchHit, error)
}

// SearchRequest 中 Limit 为 0 使用默认值，Threshold 为 nil 使用默认阈值，UserID 为 0 不按用户过滤。
type SearchRequest struct {
	Query     string
	Limit     int
	Threshold *float64
	UserID    uint
}

// SearchResponse 的 Reason 在结果因内部失败而为空时给出原因，供排查使用。
type SearchResponse struct {
	Results []model.SearchResult `json:"results"`
	Reason  string               `json:"reason,omitempty"`
}

// SearchService 执行语义检索并把分块命中聚合为文档级结果。
type SearchService interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

type searchService struct {
	embedder embedding.Client
	store    HitSearcher
	docs     repository.DocumentRepository
	cfg      config.SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder embedding.Client, store HitSearcher, docs repository.DocumentRepository, cfg config.SearchConfig) SearchService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &searchService{embedder: embedder, store: store, docs: docs, cfg: cfg}
}

func (s *searchService) normalize(req SearchRequest) (int, float64) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	threshold := s.cfg.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	return limit, clamp01(threshold)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *searchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	empty := &SearchResponse{Results: []model.SearchResult{}}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return empty, nil
	}
	if !s.embedder.Enabled() {
		return nil, ErrSearchUnavailable
	}
	limit, threshold := s.normalize(req)
	log.Infof("[SearchService] 开始检索, query: '%s', limit: %d, threshold: %.2f, user: %d", query, limit, threshold, req.UserID)

	// 1. 向量化查询
	vector := s.embedder.Embed(ctx, query)
	if vector == nil {
		log.Warnf("[SearchService] 查询向量化失败, query: '%s'", query)
		empty.Reason = "query embedding failed"
		return empty, nil
	}

	// 2. 多取 limit*3 个分块，留出按文档去重的余量
	hits, err := s.store.Search(ctx, vector, limit*3, threshold, req.UserID)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败: %v", err)
		empty.Reason = "vector search failed"
		return empty, nil
	}
	log.Infof("[SearchService] 向量检索返回 %d 个分块", len(hits))
	if len(hits) == 0 {
		return empty, nil
	}

	// 3. 按文档聚合
	groups := groupHits(hits)
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.documentID
	}
	docs, err := s.docs.FindByIDs(ctx, ids)
	if err != nil {
		log.Errorf("[SearchService] 批量查询文档失败: %v", err)
		empty.Reason = "document lookup failed"
		return empty, nil
	}
	byID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]model.SearchResult, 0, len(groups))
	for _, g := range groups {
		doc, ok := byID[g.documentID]
		// 已删除或不属于当前用户的文档直接跳过
		if !ok || (req.UserID != 0 && doc.UserID != req.UserID) {
			continue
		}
		results = append(results, model.SearchResult{
			Link:            doc.ToResponse(false),
			SimilarityScore: g.score,
			RelevantChunks:  g.snippets,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].SimilarityScore > results[j].SimilarityScore })
	if len(results) > limit {
		results = results[:limit]
	}
	log.Infof("[SearchService] 检索完成, 返回 %d 个文档", len(results))
	return &SearchResponse{Results: results}, nil
}

type hitGroup struct {
	documentID string
	score      float64
	snippets   []string
}

// groupHits 按首次出现的顺序聚合命中：文档得分取最大值，片段取前 3 个。
func groupHits(hits []model.SearchHit) []*hitGroup {
	var groups []*hitGroup
	index := make(map[string]*hitGroup)
	for _, h := range hits {
		g, ok := index[h.DocumentID]
		if !ok {
			g = &hitGroup{documentID: h.DocumentID, score: h.Score}
			index[h.DocumentID] = g
			groups = append(groups, g)
		}
		if h.Score > g.score {
			g.score = h.Score
		}
		if len(g.snippets) < maxSnippets {
			g.snippets = append(g.snippets, h.Content)
		}
	}
	return groups
}
