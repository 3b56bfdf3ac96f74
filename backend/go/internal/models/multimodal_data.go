package models

import (
	"strings"
	"time"
)

// SpeakerRole 定义了消息发送者的角色。
type SpeakerRole string

const (
	SpeakerSystem SpeakerRole = "system" // 系统指令。
	SpeakerUser   SpeakerRole = "user"   // 用户角色。
	SpeakerModel  SpeakerRole = "model"  // 模型角色。
)

// Content 包含了构成单个消息的多个部分。
type Content struct {
	Parts []*Part     `json:"parts,omitempty"`
	Role  SpeakerRole `json:"role,omitempty"`
}

// Part 定义了消息的单个部分。流水线只使用文本。
type Part struct {
	Text string `json:"text,omitempty"`
}

// GenerateContentRequest 定义了生成内容的请求结构。
type GenerateContentRequest struct {
	// 系统指令，为空时不发送。
	SystemInstruction string `json:"systemInstruction,omitempty"`
	// 请求的内容列表。
	Content []Content `json:"content,omitempty"`
	// 采样温度，nil 表示使用模型默认值。
	Temperature *float32 `json:"temperature,omitempty"`
	// 要求模型以 JSON 对象返回。
	JSONOutput bool `json:"jsonOutput,omitempty"`
}

// NewTextRequest 用系统指令和一段用户文本构造请求。
func NewTextRequest(system, prompt string, temperature *float32, jsonOutput bool) *GenerateContentRequest {
	return &GenerateContentRequest{
		SystemInstruction: system,
		Content: []Content{
			{Role: SpeakerUser, Parts: []*Part{{Text: prompt}}},
		},
		Temperature: temperature,
		JSONOutput:  jsonOutput,
	}
}

// GenerateContentResponse 定义了生成内容的响应结构。
type GenerateContentResponse struct {
	Content      []Content `json:"content,omitempty"`      // 响应的内容列表。
	CreateTime   time.Time `json:"createTime,omitempty"`   // 响应创建时间。
	ResponseID   string    `json:"responseId,omitempty"`   // 响应ID。
	ModelVersion string    `json:"modelVersion,omitempty"` // 模型版本。
}

// Text 拼接第一个候选内容中的全部文本。
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Content[0].Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
