package llm

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是一个用于 OpenAI 兼容 API 的 LLM 客户端。
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI 创建一个新的 OpenAI 客户端，baseURL 为空时使用官方地址。
func NewOpenAI(model, apiKey, baseURL string) (*OpenAI, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), model: model}, nil
}

// Model 返回模型名称。
func (o *OpenAI) Model() string { return o.model }

// GenerateContent 发送 chat completion 请求，只取第一个候选。
func (o *OpenAI) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat (%s): %w", o.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat (%s): %w", o.model, ErrEmptyResponse)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return nil, fmt.Errorf("openai chat (%s): content filtered: %w", o.model, ErrEmptyResponse)
	}
	if strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("openai chat (%s): %w", o.model, ErrEmptyResponse)
	}
	out := textResponse(resp.Choices[0].Message.Content, resp.Model, resp.ID)
	out.CreateTime = time.Unix(resp.Created, 0)
	return out, nil
}

func (o *OpenAI) toOpenAIRequest(req *models.GenerateContentRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, content := range req.Content {
		role := openai.ChatMessageRoleUser
		if content.Role == models.SpeakerModel {
			role = openai.ChatMessageRoleAssistant
		}
		for _, part := range content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: part.Text})
		}
	}

	out := openai.ChatCompletionRequest{Model: o.model, Messages: messages}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.JSONOutput {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}
