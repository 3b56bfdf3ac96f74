package embedding

import (
	"SignalFlow/backend/go/internal/config"
	"context"
	"fmt"
	"time"
)

// New 按配置组装向量化客户端：厂商模型外面依次套上维度校验与可选的 LRU 缓存。
func New(cfg config.EmbeddingConfig, timeout time.Duration) (Embedding, error) {
	var (
		base Embedding
		err  error
	)
	switch Provider(cfg.Provider) {
	case ProviderOpenAI:
		base, err = NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Dimensions)
	case ProviderGemini:
		base, err = NewGeminiEmbedder(cfg.APIKey, cfg.Model)
	case ProviderOllama:
		base, err = NewOllamaEmbedder(cfg.Model, cfg.BaseURL, timeout)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	e := WithDimensions(base, cfg.Dimensions)
	if cfg.CacheSize > 0 {
		cached, err := NewCached(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e = cached
	}
	return e, nil
}

// Fixed 拒绝长度与声明维度不符的向量，避免把坏数据写进相似度存储。
type Fixed struct {
	inner Embedding
	dims  int
}

// WithDimensions 为 inner 加上维度校验，dims <= 0 时原样返回。
func WithDimensions(inner Embedding, dims int) Embedding {
	if dims <= 0 {
		return inner
	}
	return &Fixed{inner: inner, dims: dims}
}

func (f *Fixed) check(v []float32) error {
	if len(v) != f.dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, f.dims, len(v))
	}
	return nil
}

func (f *Fixed) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := f.check(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f *Fixed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := f.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if err := f.check(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vectors, nil
}
