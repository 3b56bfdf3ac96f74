package llm

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
)

// LLM 是判定能力所依赖的单轮文本生成接口。
type LLM interface {
	// GenerateContent 发送一次非流式请求并返回完整响应。
	GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error)
	// Model 返回客户端使用的模型名称，记录在判定调用摘要中。
	Model() string
}

// Provider 标识模型厂商。
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

// ErrEmptyResponse 表示模型没有返回任何可用文本，例如内容被安全策略拦截。
var ErrEmptyResponse = errors.New("model returned no content")

// NewClient 根据提供商创建客户端。
func NewClient(ctx context.Context, provider, model, apiKey, baseURL string) (LLM, error) {
	if model == "" {
		return nil, fmt.Errorf("no model configured for %s provider", provider)
	}
	switch Provider(provider) {
	case ProviderGemini:
		return NewGemini(ctx, model, apiKey)
	case ProviderOpenAI:
		return NewOpenAI(model, apiKey, baseURL)
	case ProviderOllama:
		return NewOllama(model, baseURL)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

func textResponse(text, model, responseID string) *models.GenerateContentResponse {
	return &models.GenerateContentResponse{
		Content: []models.Content{{
			Parts: []*models.Part{{Text: text}},
			Role:  models.SpeakerModel,
		}},
		ResponseID:   responseID,
		ModelVersion: model,
	}
}
