package vectorstore

import (
	"context"

	"knowledgelink-go/internal/model"
)

// Index 是 ANN 索引后端（Elasticsearch 或 Qdrant）。Search 返回的 Score 必须已映射到 [0, 1]，
// 与 Cosine 的定义一致。
type Index interface {
	Upsert(ctx context.Context, chunks []model.IndexedChunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// Search 返回至多 k 个最近邻，userID 为 0 时不过滤用户。
	Search(ctx context.Context, vector []float32, k int, userID uint) ([]IndexHit, error)
}

// IndexHit 是索引返回的命中，携带代次用于过滤旧分块。
type IndexHit struct {
	model.SearchHit
	Generation string
}
