package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgelink-go/internal/config"
	"knowledgelink-go/internal/model"
	"knowledgelink-go/internal/repository"
	"knowledgelink-go/internal/vectorstore"
)

// keywordEmbedder 每个关键词占一个维度，不认识的词落到最后一维。
type keywordEmbedder struct {
	enabled bool
	fail    bool
	calls   int
}

var keywords = []string{"dog", "training", "cooking", "pasta", "rust"}

func keywordVector(text string) []float32 {
	v := make([]float32, len(keywords)+1)
	for _, w := range splitWords(text) {
		hit := false
		for i, k := range keywords {
			if w == k {
				v[i]++
				hit = true
			}
		}
		if !hit {
			v[len(keywords)] += 0.01
		}
	}
	return v
}

func splitWords(s string) []string {
	var out []string
	word := []rune{}
	for _, r := range s {
		if r == ' ' || r == '.' || r == ',' {
			if len(word) > 0 {
				out = append(out, string(word))
				word = word[:0]
			}
			continue
		}
		word = append(word, r)
	}
	if len(word) > 0 {
		out = append(out, string(word))
	}
	return out
}

func (k *keywordEmbedder) Enabled() bool { return k.enabled }
func (k *keywordEmbedder) Model() string { return "kw" }
func (k *keywordEmbedder) Embed(_ context.Context, text string) []float32 {
	k.calls++
	if k.fail {
		return nil
	}
	return keywordVector(text)
}
func (k *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, []float32, int, float64, uint) ([]model.SearchHit, error) {
	return nil, errors.New("db down")
}

type fixedSearcher struct{ hits []model.SearchHit }

func (f fixedSearcher) Search(context.Context, []float32, int, float64, uint) ([]model.SearchHit, error) {
	return f.hits, nil
}

var searchCfg = config.SearchConfig{DefaultLimit: 10, MaxLimit: 50, DefaultThreshold: 0.7}

type searchEnv struct {
	docs  *repository.MemoryDocumentRepository
	store *vectorstore.Store
	emb   *keywordEmbedder
	svc   SearchService
}

func newSearchEnv() *searchEnv {
	e := &searchEnv{
		docs:  repository.NewMemoryDocumentRepository(),
		store: vectorstore.NewStore(repository.NewMemoryChunkRepository()),
		emb:   &keywordEmbedder{enabled: true},
	}
	e.svc = NewSearchService(e.emb, e.store, e.docs, searchCfg)
	return e
}

func (e *searchEnv) addDoc(t *testing.T, userID uint, chunks ...string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, e.docs.Create(context.Background(), &model.Document{ID: id, URL: "https://example.com/" + id, UserID: userID, Status: model.StatusReady}))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = keywordVector(c)
	}
	require.NoError(t, e.store.Replace(context.Background(), id, chunks, vectors, nil, userID))
	return id
}

func TestSearch_BlankQuery(t *testing.T) {
	e := newSearchEnv()
	resp, err := e.svc.Search(context.Background(), SearchRequest{Query: "   ", UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, e.emb.calls)
}

func TestSearch_Unavailable(t *testing.T) {
	e := newSearchEnv()
	e.emb.enabled = false
	_, err := e.svc.Search(context.Background(), SearchRequest{Query: "dog", UserID: 1})
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestSearch_EmbeddingFailureIsEmpty(t *testing.T) {
	e := newSearchEnv()
	e.addDoc(t, 1, "dog training")
	e.emb.fail = true
	resp, err := e.svc.Search(context.Background(), SearchRequest{Query: "dog", UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotEmpty(t, resp.Reason)
}

func TestSearch_StoreFailureIsEmpty(t *testing.T) {
	svc := NewSearchService(&keywordEmbedder{enabled: true}, failingSearcher{}, repository.NewMemoryDocumentRepository(), searchCfg)
	resp, err := svc.Search(context.Background(), SearchRequest{Query: "dog", UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "vector search failed", resp.Reason)
}

func TestSearch_UnrelatedChunksAboveThreshold(t *testing.T) {
	e := newSearchEnv()
	e.addDoc(t, 1, "cooking pasta", "rust")
	th := 0.9
	resp, err := e.svc.Search(context.Background(), SearchRequest{Query: "dog training", Threshold: &th, UserID: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, resp.Reason)
}

func TestSearch_GroupsByDocumentWithMaxScore(t *testing.T) {
	e := newSearchEnv()
	dogs := e.addDoc(t, 1, "dog training", "dog", "training", "dog training dog", "cooking")
	pasta := e.addDoc(t, 1, "cooking pasta")
	e.addDoc(t, 2, "dog training") // 其他用户

	th := 0.6
	resp, err := e.svc.Search(context.Background(), SearchRequest{Query: "dog training", Threshold: &th, UserID: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	first := resp.Results[0]
	assert.Equal(t, dogs, first.Link.ID)
	assert.InDelta(t, 1.0, first.SimilarityScore, 1e-3)
	assert.Len(t, first.RelevantChunks, 3)
	assert.Equal(t, "dog training", first.RelevantChunks[0])
	for _, r := range resp.Results {
		assert.EqualValues(t, 1, r.Link.UserID)
		assert.NotEqual(t, pasta, r.Link.ID)
	}
}

func TestSearch_SkipsMissingDocumentsAndTruncates(t *testing.T) {
	docs := repository.NewMemoryDocumentRepository()
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	for _, id := range []string{a, c} {
		require.NoError(t, docs.Create(context.Background(), &model.Document{ID: id, URL: "https://x/" + id, UserID: 1}))
	}
	hits := []model.SearchHit{
		{DocumentID: a, Content: "a1", Score: 0.8},
		{DocumentID: b, Content: "b1", Score: 0.99},
		{DocumentID: c, Content: "c1", Score: 0.85},
		{DocumentID: a, Content: "a2", Score: 0.9},
	}
	svc := NewSearchService(&keywordEmbedder{enabled: true}, fixedSearcher{hits: hits}, docs, searchCfg)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", UserID: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, a, resp.Results[0].Link.ID)
	assert.InDelta(t, 0.9, resp.Results[0].SimilarityScore, 1e-9)
	assert.Equal(t, []string{"a1", "a2"}, resp.Results[0].RelevantChunks)
	assert.Equal(t, c, resp.Results[1].Link.ID)

	resp, err = svc.Search(context.Background(), SearchRequest{Query: "q", Limit: 1, UserID: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, a, resp.Results[0].Link.ID)
}

func TestSearch_TiesKeepFirstSeenOrder(t *testing.T) {
	docs := repository.NewMemoryDocumentRepository()
	a, b := uuid.NewString(), uuid.NewString()
	for _, id := range []string{a, b} {
		require.NoError(t, docs.Create(context.Background(), &model.Document{ID: id, UserID: 1}))
	}
	hits := []model.SearchHit{{DocumentID: b, Score: 0.8}, {DocumentID: a, Score: 0.8}}
	svc := NewSearchService(&keywordEmbedder{enabled: true}, fixedSearcher{hits: hits}, docs, searchCfg)

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "q", UserID: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, b, resp.Results[0].Link.ID)
	assert.Equal(t, a, resp.Results[1].Link.ID)
}

func TestSearch_NormalizesLimitAndThreshold(t *testing.T) {
	s := NewSearchService(&keywordEmbedder{}, nil, nil, searchCfg).(*searchService)
	limit, th := s.normalize(SearchRequest{Limit: 500})
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0.7, th)

	neg := -1.0
	limit, th = s.normalize(SearchRequest{Threshold: &neg})
	assert.Equal(t, 10, limit)
	assert.Equal(t, 0.0, th)
}
