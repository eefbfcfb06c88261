package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/pkg/log"
)

// pointNamespace 用于从 documentID_chunkIndex 生成稳定的 Qdrant point id。
var pointNamespace = uuid.MustParse("6f1c1f1e-8f5e-4a47-9a8e-3c8f9d7e2b10")

// QdrantIndex 是基于 Qdrant（gRPC）的 ANN 索引。Qdrant 的 cosine 得分位于 [-1, 1]，
// 返回前映射为 (s + 1) / 2。
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// QdrantConfig 用于连接 Qdrant。
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// EnsureCollection 创建集合（cosine 距离）及 document_id、user_id 的 payload 索引，可重复调用。
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dims int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	fields := map[string]*qdrant.FieldType{
		"document_id": qdrant.FieldType_FieldTypeKeyword.Enum(),
		"user_id":     qdrant.FieldType_FieldTypeInteger.Enum(),
	}
	for field, typ := range fields {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      typ,
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	log.Infof("[QdrantIndex] 集合 '%s' 创建成功, 维度: %d", q.collection, dims)
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, chunks []model.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ChunkID)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":      c.ChunkID,
				"document_id":   c.DocumentID,
				"chunk_index":   c.ChunkIndex,
				"generation":    c.Generation,
				"content":       c.Content,
				"model_version": c.ModelVersion,
				"user_id":       int64(c.UserID),
			}),
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, userID uint) ([]IndexHit, error) {
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if userID != 0 {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("user_id", int64(userID))},
		}
	}
	results, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]IndexHit, 0, len(results))
	for _, r := range results {
		p := r.Payload
		hits = append(hits, IndexHit{
			SearchHit: model.SearchHit{
				DocumentID: p["document_id"].GetStringValue(),
				ChunkIndex: int(p["chunk_index"].GetIntegerValue()),
				Content:    p["content"].GetStringValue(),
				Score:      clamp01((float64(r.Score) + 1) / 2),
			},
			Generation: p["generation"].GetStringValue(),
		})
	}
	return hits, nil
}
