package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 为每个输入返回 [len(text)]，failOn 中包含的文本会让整批失败。
type fakeProvider struct {
	mu     sync.Mutex
	calls  [][]string
	failOn string
}

func (f *fakeProvider) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && t == f.failOn {
			return nil, errors.New("provider exploded")
		}
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func noRetry() backoff.BackOff { return &backoff.StopBackOff{} }

func TestEmbedBatch_PreservesPositions(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(p, "test-model", WithBackOff(noRetry))

	got := g.EmbedBatch(context.Background(), []string{"a", "  ", "bbb", "", "cc"})
	require.Len(t, got, 5)
	assert.Equal(t, []float32{1}, got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, []float32{3}, got[2])
	assert.Nil(t, got[3])
	assert.Equal(t, []float32{2}, got[4])
	assert.Equal(t, 1, p.callCount())
}

func TestEmbedBatch_SubBatchFailureIsIsolated(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("x", i%7+1)
	}
	texts[150] = "poison"

	p := &fakeProvider{failOn: "poison"}
	g := NewGateway(p, "test-model", WithBatchSize(100), WithBackOff(noRetry))

	got := g.EmbedBatch(context.Background(), texts)
	require.Len(t, got, len(texts))
	assert.Equal(t, 3, p.callCount())

	for i := 0; i < 100; i++ {
		assert.NotNil(t, got[i], "first batch index %d", i)
	}
	for i := 100; i < 200; i++ {
		assert.Nil(t, got[i], "failed batch index %d", i)
	}
	for i := 200; i < 250; i++ {
		assert.NotNil(t, got[i], "last batch index %d", i)
	}
}

func TestEmbed_EmptyInputSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(p, "test-model")

	assert.Nil(t, g.Embed(context.Background(), "   \n\t"))
	assert.Equal(t, 0, p.callCount())
}

func TestGateway_Disabled(t *testing.T) {
	g := NewGateway(nil, "test-model")
	assert.False(t, g.Enabled())
	assert.Nil(t, g.Embed(context.Background(), "hello"))

	got := g.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Equal(t, [][]float32{nil, nil}, got)
}

type shortProvider struct{}

func (shortProvider) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func TestEmbedBatch_LengthMismatchIsFailure(t *testing.T) {
	g := NewGateway(shortProvider{}, "m", WithBackOff(noRetry))
	got := g.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Equal(t, [][]float32{nil, nil}, got)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a \n\t b   c "))
	assert.Equal(t, "", Normalize(" \n "))

	// 最后 20% 内有句号：在句号处截断
	long := strings.Repeat("w", MaxInputChars-100) + "." + strings.Repeat("z", 500)
	got := Normalize(long)
	assert.Equal(t, MaxInputChars-99, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "."))

	// 没有句号：硬截断
	assert.Len(t, []rune(Normalize(strings.Repeat("q", MaxInputChars+10))), MaxInputChars)

	// 句号过早（在前 80%）：不采用
	early := "start." + strings.Repeat("q", MaxInputChars+10)
	assert.Len(t, []rune(Normalize(early)), MaxInputChars)
}
