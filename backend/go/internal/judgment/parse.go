package judgment

import (
	"SignalFlow/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject 从模型输出中取出第一个完整的 JSON 对象，忽略代码块标记与前后的说明文字。
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}

func decode(text string, v interface{}) error {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrJudgmentFailed, err)
	}
	return nil
}

func parseClassification(text string) (Classification, error) {
	var raw struct {
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}
	if err := decode(text, &raw); err != nil {
		return Classification{}, err
	}
	name := strings.ToLower(strings.TrimSpace(raw.Category))
	if name == "investment" {
		name = string(models.CategoryRelevant)
	}
	category, ok := models.ParseCategory(name)
	if !ok {
		return Classification{}, fmt.Errorf("%w: unknown category %q", models.ErrJudgmentFailed, raw.Category)
	}
	return Classification{Category: category, Reason: raw.Reason}, nil
}

func parseComparison(text string) (Comparison, error) {
	var raw struct {
		Relationship     string `json:"relationship"`
		ShouldSkip       bool   `json:"shouldSkip"`
		ProcessedContent string `json:"processedContent"`
		IsTimeEffective  bool   `json:"isTimeEffective"`
		ShouldUpdate     bool   `json:"shouldUpdate"`
		Reasoning        string `json:"reasoning"`
	}
	if err := decode(text, &raw); err != nil {
		return Comparison{}, err
	}
	rel, ok := models.ParseRelationship(strings.ToLower(strings.TrimSpace(raw.Relationship)))
	if !ok {
		return Comparison{}, fmt.Errorf("%w: unknown relationship %q", models.ErrJudgmentFailed, raw.Relationship)
	}
	return Comparison{
		Relationship:     rel,
		ShouldSkip:       raw.ShouldSkip,
		ProcessedContent: strings.TrimSpace(raw.ProcessedContent),
		IsTimeEffective:  raw.IsTimeEffective,
		ShouldUpdate:     raw.ShouldUpdate,
		Reasoning:        raw.Reasoning,
	}, nil
}
