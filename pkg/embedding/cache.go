package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"knowledgelink-go/pkg/log"
)

// CachedClient 在 Redis 中缓存单条查询的向量，检索时相同的查询无需再次调用服务。
// 批量调用（摄取）直接透传。
type CachedClient struct {
	Client
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedClient 包装 inner；rdb 为 nil 时直接返回 inner。
func NewCachedClient(inner Client, rdb *redis.Client, ttl time.Duration) Client {
	if rdb == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedClient{Client: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedClient) cacheKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return "embedding:cache:" + c.Model() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedClient) Embed(ctx context.Context, text string) []float32 {
	normalized := Normalize(text)
	if normalized == "" || !c.Enabled() {
		return nil
	}
	key := c.cacheKey(normalized)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			return vec
		}
	} else if err != redis.Nil {
		log.Warnw("[Embedding] 读取向量缓存失败", "error", err)
	}

	vec := c.Client.Embed(ctx, normalized)
	if vec == nil {
		return nil
	}
	if raw, err := json.Marshal(vec); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Warnw("[Embedding] 写入向量缓存失败", "error", err)
		}
	}
	return vec
}
