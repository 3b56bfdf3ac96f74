// Package judgment 封装了流水线依赖的外部判定能力：分类、关系判定、信号生成与向量化。
package judgment

import (
	"SignalFlow/backend/go/internal/embedding"
	"SignalFlow/backend/go/internal/llm"
	"SignalFlow/backend/go/internal/models"
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxDigestChars 是调用摘要中 prompt 与 response 的截断长度（字符）。
const MaxDigestChars = 500

// SourceMeta 是记录来源的描述，用于构造提示词。
type SourceMeta struct {
	EntityName string
	Kind       models.SourceKind
	CreatedAt  time.Time
}

// Classification 是分类结果。
type Classification struct {
	Category models.Category `json:"category"`
	Reason   string          `json:"reason"`
}

// Match 是关系判定时提供给模型的一个已存在内容。
type Match struct {
	ID         string
	Content    string
	Similarity float64
}

// Comparison 是新内容与已存在内容的关系判定结果。
type Comparison struct {
	Relationship     models.Relationship `json:"relationship"`
	ShouldSkip       bool                `json:"shouldSkip"`
	ProcessedContent string              `json:"processedContent,omitempty"`
	IsTimeEffective  bool                `json:"isTimeEffective"`
	ShouldUpdate     bool                `json:"shouldUpdate"`
	Reasoning        string              `json:"reasoning"`
}

// Capability 是各阶段使用的判定能力。返回的 ExternalCall 用于执行追踪，
// 调用失败时的错误均包装 models.ErrJudgmentFailed。
type Capability interface {
	Classify(ctx context.Context, content string, meta SourceMeta) (Classification, models.ExternalCall, error)
	CompareRelationship(ctx context.Context, newContent string, matches []Match) (Comparison, models.ExternalCall, error)
	Summarize(ctx context.Context, content string, meta SourceMeta) (string, models.ExternalCall, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Profile 是一个使用场景下的模型与采样温度。
type Profile struct {
	Model       llm.LLM
	Temperature *float32
}

// Client 是基于 llm.LLM 与 embedding.Embedding 的 Capability 实现。
// judge 用于分类，analysis 用于关系判定与信号生成。
type Client struct {
	judge    Profile
	analysis Profile
	embedder embedding.Embedding
	timeout  time.Duration
}

// NewClient 创建判定客户端，timeout 为单次调用的超时，0 表示不限制。
func NewClient(judge, analysis Profile, embedder embedding.Embedding, timeout time.Duration) *Client {
	return &Client{judge: judge, analysis: analysis, embedder: embedder, timeout: timeout}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// generate 发送一次请求并返回文本与调用摘要。
func (c *Client) generate(ctx context.Context, p Profile, system, prompt string, jsonOutput bool) (string, models.ExternalCall, error) {
	call := models.ExternalCall{Prompt: Truncate(prompt, MaxDigestChars), Model: p.Model.Model()}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := p.Model.GenerateContent(ctx, models.NewTextRequest(system, prompt, p.Temperature, jsonOutput))
	if err != nil {
		return "", call, fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
	}
	text := resp.Text()
	call.Response = Truncate(text, MaxDigestChars)
	if resp.ModelVersion != "" {
		call.Model = resp.ModelVersion
	}
	if text == "" {
		return "", call, fmt.Errorf("%w: empty response", models.ErrJudgmentFailed)
	}
	return text, call, nil
}

// Classify 判定内容类别。
func (c *Client) Classify(ctx context.Context, content string, meta SourceMeta) (Classification, models.ExternalCall, error) {
	text, call, err := c.generate(ctx, c.judge, classificationSystem, classificationPrompt(content, meta), true)
	if err != nil {
		return Classification{}, call, err
	}
	result, err := parseClassification(text)
	return result, call, err
}

// CompareRelationship 判定新内容与相似内容的关系。matches 至少包含一项，第一项为锚点。
func (c *Client) CompareRelationship(ctx context.Context, newContent string, matches []Match) (Comparison, models.ExternalCall, error) {
	if len(matches) == 0 {
		return Comparison{}, models.ExternalCall{}, fmt.Errorf("%w: no matches to compare", models.ErrJudgmentFailed)
	}
	text, call, err := c.generate(ctx, c.analysis, duplicationSystem, duplicationPrompt(newContent, matches), true)
	if err != nil {
		return Comparison{}, call, err
	}
	result, err := parseComparison(text)
	return result, call, err
}

// Summarize 为内容生成信号分析文本。
func (c *Client) Summarize(ctx context.Context, content string, meta SourceMeta) (string, models.ExternalCall, error) {
	return c.generate(ctx, c.analysis, signalSystem, signalPrompt(content, meta), false)
}

// Embed 生成文本的向量。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	v, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", models.ErrJudgmentFailed, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", models.ErrJudgmentFailed)
	}
	return v, nil
}

// Truncate 按字符截断字符串。
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
