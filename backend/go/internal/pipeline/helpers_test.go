package pipeline

import (
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// fakeJudge 按测试脚本返回判定结果。未设置的函数使用简单的默认行为。
type fakeJudge struct {
	mu sync.Mutex

	classify  func(content string) (models.Category, error)
	compare   func(newContent string, matches []judgment.Match) (judgment.Comparison, error)
	summarize func(content string) (string, error)
	vectors   map[string][]float32
	embedErr  map[string]error

	compareCalls int
}

func (f *fakeJudge) call(prompt string) models.ExternalCall {
	return models.ExternalCall{Prompt: judgment.Truncate(prompt, judgment.MaxDigestChars), Response: "{}", Model: "fake-model"}
}

func (f *fakeJudge) Classify(_ context.Context, content string, _ judgment.SourceMeta) (judgment.Classification, models.ExternalCall, error) {
	if f.classify == nil {
		return judgment.Classification{Category: models.CategoryRelevant, Reason: "default"}, f.call(content), nil
	}
	cat, err := f.classify(content)
	if err != nil {
		return judgment.Classification{}, models.ExternalCall{}, fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
	}
	return judgment.Classification{Category: cat, Reason: "scripted"}, f.call(content), nil
}

func (f *fakeJudge) CompareRelationship(_ context.Context, newContent string, matches []judgment.Match) (judgment.Comparison, models.ExternalCall, error) {
	f.mu.Lock()
	f.compareCalls++
	f.mu.Unlock()
	if f.compare != nil {
		cmp, err := f.compare(newContent, matches)
		if err != nil {
			return judgment.Comparison{}, models.ExternalCall{}, fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
		}
		return cmp, f.call(newContent), nil
	}
	if newContent == matches[0].Content {
		return judgment.Comparison{Relationship: models.RelationshipIdentical, ShouldSkip: true}, f.call(newContent), nil
	}
	return judgment.Comparison{Relationship: models.RelationshipUnrelated}, f.call(newContent), nil
}

func (f *fakeJudge) Summarize(_ context.Context, content string, _ judgment.SourceMeta) (string, models.ExternalCall, error) {
	if f.summarize == nil {
		return "signal: " + content, f.call(content), nil
	}
	s, err := f.summarize(content)
	if err != nil {
		return "", models.ExternalCall{}, fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
	}
	return s, f.call(content), nil
}

// Embed 优先使用脚本中的向量，否则按词做哈希得到 32 维词袋向量。
func (f *fakeJudge) Embed(_ context.Context, text string) ([]float32, error) {
	if err, ok := f.embedErr[text]; ok {
		return nil, fmt.Errorf("%w: %v", models.ErrJudgmentFailed, err)
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	vec := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%32]++
	}
	return vec, nil
}

func newTestSimilarity() *similarity.Store {
	return similarity.NewStore(kv.NewMemoryStore(), "vector", 0, logger.NewDiscard())
}

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sourceRecord(id, content string, offset time.Duration) models.SourceRecord {
	return models.SourceRecord{
		RecordID:   id,
		EntityID:   "entity-1",
		EntityName: "Macro Desk",
		Kind:       models.SourceKindInfo,
		Content:    content,
		Metadata:   map[string]interface{}{"source": "test"},
		CreatedAt:  baseTime.Add(offset),
	}
}

func classifiedEvent(id, content string, offset time.Duration) Event {
	return Event{
		Kind: KindRecordClassified,
		Payload: models.ClassifiedRecord{
			SourceRecord: sourceRecord(id, content, offset),
			Category:     models.CategoryRelevant,
		},
	}
}

func outputs(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.RecordID())
	}
	return ids
}
