package llm

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 通过 /api/chat 调用本地模型。
type Ollama struct {
	client *olla.Client
	model  string
}

// NewOllama 创建一个新的 Ollama 客户端，baseURL 为空时连接 "http://localhost:11434"。
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{client: olla.NewClient(parsedURL, hc), model: model}, nil
}

// Model 返回模型名称。
func (o *Ollama) Model() string { return o.model }

// GenerateContent 以非流式方式发送对话请求。
func (o *Ollama) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	var result *olla.ChatResponse
	err := o.client.Chat(ctx, o.toChatRequest(req), func(resp olla.ChatResponse) error {
		result = &resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat (%s): %w", o.model, err)
	}
	if result == nil || result.Message.Content == "" {
		return nil, fmt.Errorf("ollama chat (%s): %w", o.model, ErrEmptyResponse)
	}
	resp := textResponse(result.Message.Content, result.Model, "")
	resp.CreateTime = result.CreatedAt
	return resp, nil
}

func (o *Ollama) toChatRequest(req *models.GenerateContentRequest) *olla.ChatRequest {
	stream := false
	out := &olla.ChatRequest{Model: o.model, Stream: &stream}
	if req.SystemInstruction != "" {
		out.Messages = append(out.Messages, olla.Message{Role: "system", Content: req.SystemInstruction})
	}
	for _, content := range req.Content {
		role := "user"
		if content.Role == models.SpeakerModel {
			role = "assistant"
		}
		for _, part := range content.Parts {
			if part != nil && part.Text != "" {
				out.Messages = append(out.Messages, olla.Message{Role: role, Content: part.Text})
			}
		}
	}
	if req.Temperature != nil {
		out.Options = map[string]interface{}{"temperature": *req.Temperature}
	}
	if req.JSONOutput {
		out.Format = json.RawMessage(`"json"`)
	}
	return out
}
