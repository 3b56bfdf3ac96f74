package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIEmbedder 调用 OpenAI 兼容的 /embeddings 接口。
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder 创建客户端。dims 只对支持裁剪维度的 text-embedding-3 系列生效。
func NewOpenAIEmbedder(apiKey, model, baseURL string, dims int) (*OpenAIEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if !strings.HasPrefix(model, "text-embedding-3") {
		dims = 0
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model, dims: dims}, nil
}

func (m *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(m.model),
		Dimensions: m.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed (%s): %w", m.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed (%s): expected %d vectors, got %d", m.model, len(texts), len(resp.Data))
	}

	// 服务端不保证返回顺序，按 Index 归位。
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embed (%s): index %d out of range", m.model, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
