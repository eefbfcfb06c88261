package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"knowledgelink-go/internal/config"
	"knowledgelink-go/pkg/log"
)

const (
	// MaxInputChars 是单条输入的字符上限，对应 8k token 左右。
	MaxInputChars = 32000

	DefaultBatchSize   = 100
	DefaultTimeout     = 60 * time.Second
	defaultConcurrency = 4
)

// Gateway 实现 Client：输入规范化、分批、限流、429 重试，失败降级为 nil。
type Gateway struct {
	provider    Provider
	model       string
	batchSize   int
	timeout     time.Duration
	concurrency int
	limiter     *rate.Limiter
	newBackOff  func() backoff.BackOff
}

type Option func(*Gateway)

func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRateLimit 限制每秒请求数，<=0 表示不限流。
func WithRateLimit(perSecond float64) Option {
	return func(g *Gateway) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(g *Gateway) { g.newBackOff = f }
}

// NewGateway 创建网关，provider 为 nil 时网关处于禁用状态。
func NewGateway(provider Provider, model string, opts ...Option) *Gateway {
	g := &Gateway{
		provider:    provider,
		model:       model,
		batchSize:   DefaultBatchSize,
		timeout:     DefaultTimeout,
		concurrency: defaultConcurrency,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromConfig 根据配置创建网关，缺少 API Key 时返回禁用的网关。
func NewFromConfig(cfg config.EmbeddingConfig) *Gateway {
	var provider Provider
	if cfg.APIKey != "" {
		provider = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	} else {
		log.Warnf("[Embedding] 未配置 embedding.api_key，向量化与语义检索不可用")
	}
	return NewGateway(provider, cfg.Model,
		WithBatchSize(cfg.BatchSize),
		WithTimeout(cfg.Timeout),
		WithRateLimit(cfg.RateLimit),
	)
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (g *Gateway) Enabled() bool { return g.provider != nil }

func (g *Gateway) Model() string { return g.model }

// Embed 返回单条文本的向量。
func (g *Gateway) Embed(ctx context.Context, text string) []float32 {
	return g.EmbedBatch(ctx, []string{text})[0]
}

// EmbedBatch 将非空输入按 batchSize 分批并发请求，保持与输入位置的映射。
// 某一批失败只会让该批成员为 nil，其余批次照常返回。
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if !g.Enabled() {
		return out
	}

	inputs := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if n := Normalize(t); n != "" {
			inputs = append(inputs, n)
			positions = append(positions, i)
		}
	}
	if len(inputs) == 0 {
		return out
	}

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for start := 0; start < len(inputs); start += g.batchSize {
		end := min(start+g.batchSize, len(inputs))
		eg.Go(func() error {
			vectors, err := g.embedWithRetry(ctx, inputs[start:end])
			if err != nil {
				log.Warnw("[Embedding] 批次向量化失败，该批结果置空",
					"batch_start", start, "batch_size", end-start, "error", err)
				return nil
			}
			for i, v := range vectors {
				out[positions[start+i]] = v
			}
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// embedWithRetry 只对限流错误（429）重试，其他错误直接返回。
func (g *Gateway) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	operation := func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		res, err := g.provider.CreateEmbeddings(callCtx, batch)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(res) != len(batch) {
			return backoff.Permanent(fmt.Errorf("provider returned %d vectors for %d inputs", len(res), len(batch)))
		}
		vectors = res
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(g.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Normalize 去除首尾空白、折叠内部空白，并截断到 MaxInputChars。
// 截断时若最后一个句号落在预算的最后 20% 内，则在句号处截断。
func Normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= MaxInputChars {
		return text
	}
	runes = runes[:MaxInputChars]
	for i := len(runes) - 1; i > MaxInputChars*8/10; i-- {
		if runes[i] == '.' {
			return string(runes[:i+1])
		}
	}
	return string(runes)
}
