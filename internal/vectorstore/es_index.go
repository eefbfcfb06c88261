package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/pkg/log"
)

// ESIndex 使用 dense_vector(cosine) 字段做 kNN 检索。
// Elasticsearch 的 cosine _score 即为 (1 + cos) / 2，无需再映射。
type ESIndex struct {
	client    *elasticsearch.Client
	indexName string
}

func NewESIndex(client *elasticsearch.Client, indexName string) *ESIndex {
	return &ESIndex{client: client, indexName: indexName}
}

// Upsert 通过 bulk 接口写入分块，refresh=true 保证随后的检索可见。
func (e *ESIndex) Upsert(ctx context.Context, chunks []model.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, c := range chunks {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": e.indexName, "_id": c.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(c); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Body:    &body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch bulk returned %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, v := range item {
				if v.Status >= 300 {
					return fmt.Errorf("elasticsearch bulk item failed [%d]: %s", v.Status, v.Error.Reason)
				}
			}
		}
		return errors.New("elasticsearch bulk reported errors")
	}
	return nil
}

// DeleteByDocument 删除文档的全部分块，文档不存在时也视为成功。
func (e *ESIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		strings.NewReader(query),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch delete_by_query returned %s: %s", res.Status(), string(b))
	}
	return nil
}

func (e *ESIndex) Search(ctx context.Context, vector []float32, k int, userID uint) ([]IndexHit, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": k,
	}
	if userID != 0 {
		knn["filter"] = map[string]interface{}{"term": map[string]interface{}{"user_id": userID}}
	}
	esQuery := map[string]interface{}{
		"knn":     knn,
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		log.Errorf("[ESIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(b))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.IndexedChunk `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]IndexHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, IndexHit{
			SearchHit: model.SearchHit{
				DocumentID: h.Source.DocumentID,
				ChunkIndex: h.Source.ChunkIndex,
				Content:    h.Source.Content,
				Score:      clamp01(h.Score),
			},
			Generation: h.Source.Generation,
		})
	}
	return hits, nil
}
