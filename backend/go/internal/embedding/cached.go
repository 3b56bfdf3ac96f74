package embedding

import (
	"SignalFlow/backend/go/pkg/util"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Cached 为 Embedding 增加按内容摘要索引的 LRU 缓存，相同文本只请求一次。
type Cached struct {
	inner Embedding
	cache *util.LRUCache[string, []float32]
}

// NewCached 包装一个 Embedding，capacity 为缓存的最大条目数。
func NewCached(inner Embedding, capacity int) (*Cached, error) {
	cache, err := util.NewWithConfig(util.CacheConfig[string, []float32]{Capacity: capacity})
	if err != nil {
		return nil, fmt.Errorf("创建嵌入缓存失败: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed 优先从缓存读取向量。
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := digest(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, v, 1)
	return v, nil
}

// EmbedBatch 只为未命中缓存的文本发起一次批量请求。
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(digest(text)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vectors, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missing), len(vectors))
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.cache.Put(digest(missing[j]), v, 1)
	}
	return out, nil
}

// Stats 返回缓存命中统计。
func (c *Cached) Stats() util.CacheStats {
	return c.cache.Stats()
}
