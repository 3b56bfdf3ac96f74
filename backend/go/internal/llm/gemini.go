package llm

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 每次调用都是独立的单轮请求，不保留会话历史。
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini 创建一个新的 Gemini 客户端。
func NewGemini(ctx context.Context, model, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Model 返回模型名称。
func (g *Gemini) Model() string { return g.model }

// GenerateContent 向 Gemini API 发送请求，只取第一个候选中的文本。
func (g *Gemini) GenerateContent(ctx context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	gm := g.client.GenerativeModel(g.model)
	if req.SystemInstruction != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemInstruction))
	}
	if req.Temperature != nil {
		gm.SetTemperature(*req.Temperature)
	}
	if req.JSONOutput {
		gm.ResponseMIMEType = "application/json"
	}

	resp, err := gm.GenerateContent(ctx, toGenaiParts(req.Content)...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate (%s): %w", g.model, err)
	}
	text := candidateText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini generate (%s): %w", g.model, ErrEmptyResponse)
	}
	return textResponse(text, g.model, ""), nil
}

// Close 释放底层连接。
func (g *Gemini) Close() error {
	return g.client.Close()
}

func toGenaiParts(content []models.Content) []genai.Part {
	var parts []genai.Part
	for _, c := range content {
		for _, p := range c.Parts {
			if p != nil && p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
		}
	}
	return parts
}

// candidateText 拼接第一个候选中的文本部分，被拦截或为空时返回空串。
func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if text, ok := p.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
