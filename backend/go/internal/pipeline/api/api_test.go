package api

import (
	"SignalFlow/backend/go/internal/datasource"
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/internal/pipeline/service"
	"SignalFlow/backend/go/internal/pipeline/store"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/internal/tracking"
	"SignalFlow/backend/go/pkg/logger"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relevantJudge treats every record as relevant and every comparison as unrelated.
type relevantJudge struct{}

func (relevantJudge) Classify(context.Context, string, judgment.SourceMeta) (judgment.Classification, models.ExternalCall, error) {
	return judgment.Classification{Category: models.CategoryRelevant, Reason: "test"}, models.ExternalCall{Prompt: "classify", Model: "stub"}, nil
}

func (relevantJudge) CompareRelationship(context.Context, string, []judgment.Match) (judgment.Comparison, models.ExternalCall, error) {
	return judgment.Comparison{Relationship: models.RelationshipUnrelated}, models.ExternalCall{Prompt: "compare", Model: "stub"}, nil
}

func (relevantJudge) Summarize(_ context.Context, content string, _ judgment.SourceMeta) (string, models.ExternalCall, error) {
	return "signal for " + content, models.ExternalCall{Prompt: "summarize", Model: "stub"}, nil
}

func (relevantJudge) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r)
	}
	return v, nil
}

type testEnv struct {
	router   *gin.Engine
	pipeline *pipeline.Pipeline
	signals  *store.MemorySignalStore
	service  *service.SignalFlowService
}

func newTestEnv(t *testing.T, withTracker bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewDiscard()
	kvStore := kv.NewMemoryStore()
	sim := similarity.NewStore(kvStore, "vector", 0, log)

	var tracker *tracking.Tracker
	if withTracker {
		tracker = tracking.NewTracker(kvStore, tracking.NewRegistry(), tracking.Options{}, log)
	}
	p := pipeline.New(relevantJudge{}, sim, tracker, pipeline.Config{}, log)
	signals := store.NewMemorySignalStore()
	store.NewArchiver(signals, log).Subscribe(p.Bus())

	svc := service.NewSignalFlowService(p, tracker, nil, sim, signals, log)
	return &testEnv{router: NewRouter(NewAPI(svc, log)), pipeline: p, signals: signals, service: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	var out map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestInjectFlow_TagsRecordsAndTracksFlow(t *testing.T) {
	env := newTestEnv(t, true)

	rr, body := env.do(t, http.MethodPost, "/api/v1/test/inject-flow", `{"events":[
		{"payload":{"recordId":"r1","content":"copper inventories fall","createdAt":"2025-03-01T08:00:00Z"}},
		{"payload":{"content":"grain exports rise","dataSourceType":"strategy"}}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["eventsInjected"])
	flowID := body["flowId"].(string)
	assert.Regexp(t, `^flow-\d{4}-\d{2}-\d{2}-[a-z0-9]{9}$`, flowID)

	records := body["records"].([]interface{})
	second := records[1].(map[string]interface{})
	assert.True(t, strings.HasPrefix(second["recordId"].(string), "test-"))
	assert.Equal(t, service.DefaultEntityID, second["entityId"])
	assert.Equal(t, "strategy", second["dataSourceType"])

	env.pipeline.Drain(context.Background())

	rr, trace := env.do(t, http.MethodGet, "/api/v1/flows/"+flowID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, trace["inputEvents"], 2)
	assert.Len(t, trace["controllers"], 3)
	assert.Equal(t, "processing", trace["status"])

	rr, list := env.do(t, http.MethodGet, "/api/v1/flows?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, list["total"])

	rr, ctrl := env.do(t, http.MethodGet, "/api/v1/controllers/"+pipeline.ClassifierName+"/flows/"+flowID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := ctrl["data"].(map[string]interface{})
	assert.EqualValues(t, 2, data["totalInputEvents"])

	rr, done := env.do(t, http.MethodPost, "/api/v1/flows/"+flowID+"/complete", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", done["status"])
	assert.Len(t, done["outputEvents"], 2)

	signals, err := env.signals.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	for _, s := range signals {
		assert.Equal(t, flowID, s.FlowID)
	}

	rr, sigBody := env.do(t, http.MethodGet, "/api/v1/signals", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, sigBody["total"])
}

func TestInjectFlow_RejectsMissingEvents(t *testing.T) {
	env := newTestEnv(t, true)

	rr, _ := env.do(t, http.MethodPost, "/api/v1/test/inject-flow", `{"foo":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/test/inject-flow", `{"events":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestControllerEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	_, body := env.do(t, http.MethodPost, "/api/v1/test/inject-flow", `{"events":[{"payload":{"content":"rates unchanged"}}]}`)
	env.pipeline.Drain(context.Background())
	flowID := body["flowId"].(string)

	rr, avail := env.do(t, http.MethodGet, "/api/v1/controllers/available", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 3, avail["count"])

	rr, hist := env.do(t, http.MethodGet, "/api/v1/controllers/"+pipeline.SignalName+"/executions?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, hist["executionCount"])

	rr, latest := env.do(t, http.MethodGet, "/api/v1/controllers/"+pipeline.DeduplicatorName+"/latest", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, flowID, latest["flowId"])

	rr, _ = env.do(t, http.MethodGet, "/api/v1/controllers/Unknown/flows/"+flowID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, cleared := env.do(t, http.MethodDelete, "/api/v1/handler/clear-cache", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, cleared["success"])

	rr, _ = env.do(t, http.MethodGet, "/api/v1/flows/"+flowID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	rr, health := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, false, health["trackingEnabled"])

	rr, _ = env.do(t, http.MethodGet, "/api/v1/flows", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr, status := env.do(t, http.MethodGet, "/api/v1/datasource/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, status["stages"], 3)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/datasource/cursors", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/similarity/partitions/BadName/stats", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.do(t, http.MethodPost, "/api/v1/test/inject-flow", `{"events":[{"payload":{"content":"oil supply shock"}}]}`)
	env.pipeline.Drain(context.Background())
	rr, stats := env.do(t, http.MethodGet, "/api/v1/similarity/partitions/"+pipeline.DefaultDedupPartition+"/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, stats["count"])
}

func TestHealthReportsDependencies(t *testing.T) {
	env := newTestEnv(t, false)
	env.service.AddDependency("redis", func(context.Context) error { return nil })

	rr, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["trackingEnabled"])

	env.service.AddDependency("mongodb", func(context.Context) error { return errors.New("connection refused") })
	rr, body = env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "connection refused", deps["mongodb"])
}

func TestSimilarityPartitionAdmin(t *testing.T) {
	env := newTestEnv(t, false)
	base := "/api/v1/similarity/partitions/news"

	rr, imported := env.do(t, http.MethodPost, base+"/entries", `{"entries":[
		{"id":"a","content":"opec extends cuts","embedding":[1,0]},
		{"id":"b","content":"opec extends output cuts","embedding":[1,0.01]},
		{"id":"c","content":"payrolls beat","embedding":[0,1]}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 3, imported["imported"])

	rr, _ = env.do(t, http.MethodPost, base+"/entries", `{"entries":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, list := env.do(t, http.MethodGet, "/api/v1/similarity/partitions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	partitions := list["partitions"].([]interface{})
	require.Len(t, partitions, 1)
	news := partitions[0].(map[string]interface{})
	assert.Equal(t, "news", news["name"])
	assert.EqualValues(t, 3, news["stats"].(map[string]interface{})["count"])

	rr, dups := env.do(t, http.MethodGet, base+"/duplicates?threshold=0.99", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, dups["total"])

	rr, _ = env.do(t, http.MethodGet, base+"/duplicates?threshold=2", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, exported := env.do(t, http.MethodGet, base+"/entries", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 3, exported["total"])

	rr, _ = env.do(t, http.MethodDelete, base+"/entries/c", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = env.do(t, http.MethodDelete, base+"/entries/c", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, cleared := env.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, cleared["deleted"])

	rr, stats := env.do(t, http.MethodGet, base+"/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, stats["count"])
}

// staticSubscriptions serves a fixed entity list.
type staticSubscriptions struct {
	registry *datasource.EntityRegistry
	cursors  *datasource.CursorStore
}

func (s staticSubscriptions) GetStatus() datasource.Status           { return datasource.Status{} }
func (s staticSubscriptions) Cursors() *datasource.CursorStore       { return s.cursors }
func (s staticSubscriptions) AvailableEntities() []models.EntityInfo { return s.registry.All() }
func (s staticSubscriptions) GetEntity(id string) (models.EntityInfo, bool) {
	return s.registry.Get(id)
}
func (s staticSubscriptions) FindEntityByName(term string) (models.EntityInfo, bool) {
	return s.registry.FindByName(term)
}

func TestEntityEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewDiscard()
	kvStore := kv.NewMemoryStore()
	sim := similarity.NewStore(kvStore, "vector", 0, log)
	p := pipeline.New(relevantJudge{}, sim, nil, pipeline.Config{}, log)

	registry := datasource.NewEntityRegistry()
	registry.Set([]models.EntityInfo{
		{EntityID: "e-1", DataType: models.SourceKindInfo, DisplayName: "Macro Wire"},
		{EntityID: "e-2", DataType: models.SourceKindStrategy, DisplayName: "Desk Notes"},
	})
	subs := staticSubscriptions{registry: registry, cursors: datasource.NewCursorStore(kvStore, "", false, log)}
	svc := service.NewSignalFlowService(p, nil, subs, sim, store.NewMemorySignalStore(), log)
	env := &testEnv{router: NewRouter(NewAPI(svc, log)), pipeline: p, service: svc}

	rr, all := env.do(t, http.MethodGet, "/api/v1/datasource/entities", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, all["total"])

	rr, found := env.do(t, http.MethodGet, "/api/v1/datasource/entities?name=desk", "")
	require.Equal(t, http.StatusOK, rr.Code)
	entities := found["entities"].([]interface{})
	require.Len(t, entities, 1)
	assert.Equal(t, "e-2", entities[0].(map[string]interface{})["entityId"])

	rr, _ = env.do(t, http.MethodGet, "/api/v1/datasource/entities?name=nothing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, one := env.do(t, http.MethodGet, "/api/v1/datasource/entities/e-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Macro Wire", one["displayName"])

	rr, _ = env.do(t, http.MethodGet, "/api/v1/datasource/entities/e-9", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// without an upstream the entity endpoints are unavailable
	plain := newTestEnv(t, false)
	rr, _ = plain.do(t, http.MethodGet, "/api/v1/datasource/entities", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
