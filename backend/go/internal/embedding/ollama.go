package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder 通过本地 Ollama 服务生成向量。
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder 创建客户端，baseURL 为空时连接本机默认端口。
func NewOllamaEmbedder(model, baseURL string, timeout time.Duration) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &OllamaEmbedder{
		client: ollama.NewClient(parsed, &http.Client{Timeout: timeout}),
		model:  model,
	}, nil
}

func (m *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 用一次 /api/embed 请求完成整批文本。
func (m *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{Model: m.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed (%s): %w", m.model, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed (%s): expected %d vectors, got %d", m.model, len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
