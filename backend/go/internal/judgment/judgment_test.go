package judgment

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	reply   string
	err     error
	lastReq *models.GenerateContentRequest
}

func (s *scriptedLLM) GenerateContent(_ context.Context, req *models.GenerateContentRequest) (*models.GenerateContentResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.GenerateContentResponse{
		Content: []models.Content{{Role: models.SpeakerModel, Parts: []*models.Part{{Text: s.reply}}}},
	}, nil
}

func (s *scriptedLLM) Model() string { return "scripted-model" }

type fixedEmbedding struct {
	vec []float32
	err error
}

func (f fixedEmbedding) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

func (f fixedEmbedding) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func newClient(reply string, err error) (*Client, *scriptedLLM) {
	m := &scriptedLLM{reply: reply, err: err}
	temp := float32(0.2)
	c := NewClient(Profile{Model: m, Temperature: &temp}, Profile{Model: m}, fixedEmbedding{vec: []float32{1, 0}}, 0)
	return c, m
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                                 `{"a":1}`,
		"```json\n{\"a\":1}\n```":                 `{"a":1}`,
		`Sure! Here it is: {"a":{"b":"}"}} done.`: `{"a":{"b":"}"}}`,
		`{"s":"quote \" and { brace"}`:            `{"s":"quote \" and { brace"}`,
	}
	for in, want := range cases {
		got, err := ExtractJSONObject(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ExtractJSONObject("no json here")
	assert.Error(t, err)
	_, err = ExtractJSONObject(`{"a":`)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	c, m := newClient("```json\n{\"category\":\"relevant\",\"reason\":\"earnings\"}\n```", nil)

	got, call, err := c.Classify(context.Background(), "ACME beats earnings", SourceMeta{EntityName: "wire", Kind: models.SourceKindInfo})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryRelevant, got.Category)
	assert.Equal(t, "earnings", got.Reason)
	assert.Equal(t, "scripted-model", call.Model)
	assert.Contains(t, call.Prompt, "ACME beats earnings")
	require.NotNil(t, m.lastReq)
	assert.True(t, m.lastReq.JSONOutput)
	require.NotNil(t, m.lastReq.Temperature)
	assert.Equal(t, float32(0.2), *m.lastReq.Temperature)
}

func TestClassify_UnknownCategoryFails(t *testing.T) {
	c, _ := newClient(`{"category":"gossip","reason":""}`, nil)

	_, _, err := c.Classify(context.Background(), "x", SourceMeta{})
	assert.ErrorIs(t, err, models.ErrJudgmentFailed)
}

func TestClassify_TransportErrorWraps(t *testing.T) {
	c, _ := newClient("", errors.New("connection reset"))

	_, _, err := c.Classify(context.Background(), "x", SourceMeta{})
	assert.ErrorIs(t, err, models.ErrJudgmentFailed)
}

func TestCompareRelationship(t *testing.T) {
	reply := `{"relationship":"new_contains_existing","shouldSkip":false,"processedContent":" extra detail ","isTimeEffective":true,"shouldUpdate":false,"reasoning":"adds detail"}`
	c, m := newClient(reply, nil)

	got, _, err := c.CompareRelationship(context.Background(), "base plus extra detail", []Match{
		{ID: "record-0001-abcdef", Content: "base", Similarity: 0.91},
		{ID: "record-0002", Content: "other", Similarity: 0.7},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RelationshipNewContainsExisting, got.Relationship)
	assert.Equal(t, "extra detail", got.ProcessedContent)
	assert.True(t, got.IsTimeEffective)
	prompt := m.lastReq.Content[0].Parts[0].Text
	assert.Contains(t, prompt, "[Existing content 1] (similarity: 0.9100, id: record-0)")
	assert.Contains(t, prompt, "[Existing content 2]")
}

func TestCompareRelationship_Failures(t *testing.T) {
	c, _ := newClient(`{"relationship":"sibling"}`, nil)
	_, _, err := c.CompareRelationship(context.Background(), "x", []Match{{ID: "a", Content: "y"}})
	assert.ErrorIs(t, err, models.ErrJudgmentFailed)

	_, _, err = c.CompareRelationship(context.Background(), "x", nil)
	assert.ErrorIs(t, err, models.ErrJudgmentFailed)
}

func TestSummarizeTruncatesDigest(t *testing.T) {
	long := strings.Repeat("分析", 400)
	c, m := newClient(long, nil)

	text, call, err := c.Summarize(context.Background(), "content", SourceMeta{EntityName: "wire"})
	require.NoError(t, err)
	assert.Equal(t, long, text)
	assert.Equal(t, MaxDigestChars, len([]rune(call.Response)))
	assert.False(t, m.lastReq.JSONOutput)
}

func TestEmbed(t *testing.T) {
	c, _ := newClient("", nil)
	v, err := c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)

	failing := NewClient(Profile{Model: &scriptedLLM{}}, Profile{Model: &scriptedLLM{}}, fixedEmbedding{err: errors.New("down")}, 0)
	_, err = failing.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrJudgmentFailed)
}
