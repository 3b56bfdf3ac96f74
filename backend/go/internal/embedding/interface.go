package embedding

import (
	"context"
	"errors"
)

// Embedding 把记录内容映射到相似度空间，去重引擎依赖它做检索。
type Embedding interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 返回的向量与 texts 一一对应。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider 标识向量化服务的厂商。
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

// ErrDimensionMismatch 表示模型返回的向量长度与部署声明的维度不一致。
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
