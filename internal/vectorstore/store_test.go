package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
)

// memIndex 是一个精确计算 Cosine 的内存索引，模拟 ANN 索引行为。
type memIndex struct {
	entries   map[string]model.IndexedChunk
	order     []string
	searchErr error
	searches  int
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]model.IndexedChunk)}
}

func (m *memIndex) Upsert(_ context.Context, chunks []model.IndexedChunk) error {
	for _, c := range chunks {
		if _, ok := m.entries[c.ChunkID]; !ok {
			m.order = append(m.order, c.ChunkID)
		}
		m.entries[c.ChunkID] = c
	}
	return nil
}

func (m *memIndex) DeleteByDocument(_ context.Context, documentID string) error {
	kept := m.order[:0]
	for _, id := range m.order {
		if m.entries[id].DocumentID == documentID {
			delete(m.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

func (m *memIndex) Search(_ context.Context, vector []float32, k int, userID uint) ([]IndexHit, error) {
	m.searches++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var hits []IndexHit
	for _, id := range m.order {
		c := m.entries[id]
		if userID != 0 && c.UserID != userID {
			continue
		}
		hits = append(hits, IndexHit{
			SearchHit:  model.SearchHit{DocumentID: c.DocumentID, ChunkIndex: c.ChunkIndex, Content: c.Content, Score: Cosine(vector, c.Vector)},
			Generation: c.Generation,
		})
	}
	hits2 := make([]model.SearchHit, len(hits))
	for i := range hits {
		hits2[i] = hits[i].SearchHit
	}
	ranked := rank(hits2, k)
	out := make([]IndexHit, 0, len(ranked))
	for _, r := range ranked {
		for _, h := range hits {
			if h.DocumentID == r.DocumentID && h.ChunkIndex == r.ChunkIndex {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

// staleIndex 返回不属于当前代次的条目。
type staleIndex struct{ hits []IndexHit }

func (s staleIndex) Upsert(context.Context, []model.IndexedChunk) error { return nil }
func (s staleIndex) DeleteByDocument(context.Context, string) error     { return nil }
func (s staleIndex) Search(context.Context, []float32, int, uint) ([]IndexHit, error) {
	return s.hits, nil
}

var (
	docA = uuid.NewString()
	docB = uuid.NewString()
)

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, docA,
		[]string{"dogs", "cats", "birds"},
		[][]float32{{1, 0, 0}, {0.8, 0.6, 0}, {0, 0, 1}},
		map[string]string{"url": "a"}, 1))
	require.NoError(t, s.Replace(ctx, docB,
		[]string{"fish", "more dogs"},
		[][]float32{{0, 1, 0}, {0.9, 0.1, 0}},
		nil, 1))
}

func TestReplace_Validation(t *testing.T) {
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks)
	ctx := context.Background()

	err := s.Replace(ctx, "not-a-uuid", []string{"a"}, [][]float32{{1}}, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidID)

	err = s.Replace(ctx, docA, []string{"a", "b"}, [][]float32{{1}}, nil, 1)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	err = s.Replace(ctx, docA, []string{"a", "b"}, [][]float32{{1, 0}, {1}}, nil, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = s.Replace(ctx, docA, []string{"a", "b"}, [][]float32{nil, nil}, nil, 1)
	assert.ErrorIs(t, err, ErrNoVectors)

	n, _ := chunks.CountByDocument(ctx, docA)
	assert.EqualValues(t, 0, n, "rejected replace must not mutate the store")
}

func TestReplace_SkipsNilVectorsKeepingIndex(t *testing.T) {
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks, WithModelVersion("m1"))
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, docA, []string{"zero", "one", "two"}, [][]float32{{1, 0}, nil, {0, 1}}, nil, 1))

	rows, err := chunks.FindCandidates(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].ChunkIndex)
	assert.Equal(t, 2, rows[1].ChunkIndex)
	assert.Equal(t, "two", rows[1].Content)
	assert.Equal(t, "m1", rows[1].ModelVersion)
}

func TestReplace_FullyReplacesPriorGeneration(t *testing.T) {
	idx := newMemIndex()
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks, WithIndex(idx))
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, docA, []string{"new dogs"}, [][]float32{{1, 0, 0}}, nil, 1))

	n, _ := chunks.CountByDocument(ctx, docA)
	assert.EqualValues(t, 1, n)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, 0, 1)
	require.NoError(t, err)
	for _, h := range hits {
		if h.DocumentID == docA {
			assert.Equal(t, "new dogs", h.Content)
		}
	}
}

func TestSearch_IndexAndFallbackAgree(t *testing.T) {
	idx := newMemIndex()
	chunks := repository.NewMemoryChunkRepository()
	withIndex := NewStore(chunks, WithIndex(idx))
	seed(t, withIndex)
	fallbackOnly := NewStore(chunks)

	ctx := context.Background()
	query := []float32{1, 0, 0}

	a, err := withIndex.Search(ctx, query, 2, 0.6, 1)
	require.NoError(t, err)
	b, err := fallbackOnly.Search(ctx, query, 2, 0.6, 1)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].DocumentID, b[i].DocumentID)
		assert.Equal(t, a[i].ChunkIndex, b[i].ChunkIndex)
		assert.InDelta(t, a[i].Score, b[i].Score, 1e-6)
	}
	assert.Equal(t, "dogs", a[0].Content)
	for i := 1; i < len(a); i++ {
		assert.GreaterOrEqual(t, a[i-1].Score, a[i].Score)
	}
}

func TestSearch_FallbackOnIndexError(t *testing.T) {
	idx := newMemIndex()
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks, WithIndex(idx))
	seed(t, s)
	idx.searchErr = errors.New("cluster red")

	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, 1, 0.9, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.searches)
	require.NotEmpty(t, hits)
	assert.Equal(t, "dogs", hits[0].Content)
	assert.LessOrEqual(t, len(hits), 3)
}

func TestSearch_CapsAtThreeTimesLimit(t *testing.T) {
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks)
	texts := make([]string, 10)
	vecs := make([][]float32, 10)
	for i := range texts {
		texts[i] = "same"
		vecs[i] = []float32{1, 1}
	}
	require.NoError(t, s.Replace(context.Background(), docA, texts, vecs, nil, 1))

	hits, err := s.Search(context.Background(), []float32{1, 1}, 2, 0.5, 1)
	require.NoError(t, err)
	require.Len(t, hits, 6)
	// 得分相同时保持存储顺序
	for i, h := range hits {
		assert.Equal(t, i, h.ChunkIndex)
	}
}

func TestSearch_ThresholdAndUserFilter(t *testing.T) {
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks)
	seed(t, s)
	other := uuid.NewString()
	require.NoError(t, s.Replace(context.Background(), other, []string{"other user dogs"}, [][]float32{{1, 0, 0}}, nil, 2))

	hits, err := s.Search(context.Background(), []float32{0, 0, -1}, 10, 0.9, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(context.Background(), []float32{1, 0, 0}, 10, 0.99, 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, other, hits[0].DocumentID)
}

func TestSearch_DropsStaleGenerations(t *testing.T) {
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks)
	seed(t, s)

	gens, err := chunks.CurrentGenerations(context.Background(), []string{docA})
	require.NoError(t, err)

	s.index = staleIndex{hits: []IndexHit{
		{SearchHit: model.SearchHit{DocumentID: docA, Content: "old", Score: 0.99}, Generation: "old-generation"},
		{SearchHit: model.SearchHit{DocumentID: docA, Content: "current", Score: 0.95}, Generation: gens[docA]},
		{SearchHit: model.SearchHit{DocumentID: uuid.NewString(), Content: "deleted doc", Score: 0.97}, Generation: "x"},
	}}

	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, 10, 0.5, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "current", hits[0].Content)
}

func TestDeleteByDocument(t *testing.T) {
	idx := newMemIndex()
	chunks := repository.NewMemoryChunkRepository()
	s := NewStore(chunks, WithIndex(idx))
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteByDocument(ctx, docA))
	require.NoError(t, s.DeleteByDocument(ctx, docA), "delete must be idempotent")
	require.NoError(t, s.DeleteByDocument(ctx, uuid.NewString()))
	assert.ErrorIs(t, s.DeleteByDocument(ctx, "bad"), ErrInvalidID)

	hits, err := s.Search(ctx, []float32{0, 0, 1}, 10, 0.9, 1)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, docA, h.DocumentID)
	}
	for _, c := range idx.entries {
		assert.NotEqual(t, docA, c.DocumentID)
	}
}

func TestSearch_InvalidArguments(t *testing.T) {
	s := NewStore(repository.NewMemoryChunkRepository())
	hits, err := s.Search(context.Background(), []float32{1}, 0, 0.5, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.Search(context.Background(), nil, 5, 0.5, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
