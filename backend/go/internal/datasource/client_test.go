package datasource

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.DataSourceConfig{BaseURL: srv.URL, APIKey: "secret"}, logger.NewDiscard())
	require.NoError(t, err)
	return client
}

func TestClient_Entities(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/data/entities", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"entityId": "e-1", "dataType": "info", "count": 3, "displayName": "Macro Wire"},
				{"entityId": "e-2", "dataType": "strategy", "count": 1, "displayName": "Desk Notes"},
			},
		})
	})

	entities, err := client.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Macro Wire", entities[0].Name())
	assert.Equal(t, models.SourceKindStrategy, entities[1].DataType)
}

func TestClient_QueryRecordsParams(t *testing.T) {
	after := time.Date(2025, 3, 1, 8, 30, 0, 123e6, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/public/data/records", r.URL.Path)
		assert.Equal(t, "e-1", q.Get("entityId"))
		assert.Equal(t, "40", q.Get("limit"))
		assert.Equal(t, "2025-03-01T08:30:00.123Z", q.Get("afterTimestamp"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{
					"id": "r-1", "entityId": "e-1", "data": map[string]string{"content": "rates unchanged"},
					"metadata": map[string]interface{}{"source": "wire"}, "version": "1",
					"createdAt": "2025-03-01T08:31:00.000Z",
				},
			},
		})
	})

	records, err := client.QueryRecords(context.Background(), QueryOptions{EntityID: "e-1", Limit: 40, AfterTimestamp: &after})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rates unchanged", records[0].Data.Content)

	src := records[0].ToSourceRecord(models.EntityInfo{EntityID: "e-1", DataType: models.SourceKindInfo, DisplayName: "Macro Wire"})
	assert.Equal(t, "r-1", src.RecordID)
	assert.Equal(t, "Macro Wire", src.EntityName)
	assert.Equal(t, "wire", src.Metadata["source"])
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		kind        ErrorKind
		rateLimited bool
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("Too many requests"))
			},
			kind:        ErrorKindRateLimited,
			rateLimited: true,
		},
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusForbidden, map[string]interface{}{"success": false, "message": "forbidden"})
			},
			kind: ErrorKindHTTP,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			kind: ErrorKindHTTP,
		},
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "entity disabled"})
			},
			kind: ErrorKindAPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.QueryRecords(context.Background(), QueryOptions{EntityID: "e-1"})
			require.Error(t, err)

			var subErr *SubscriptionError
			require.True(t, errors.As(err, &subErr))
			assert.Equal(t, tt.kind, subErr.Kind)
			assert.Equal(t, tt.rateLimited, errors.Is(err, models.ErrUpstreamRateLimited))
			assert.Equal(t, !tt.rateLimited, errors.Is(err, models.ErrUpstreamRequestFailed))
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := NewClient(config.DataSourceConfig{BaseURL: url}, logger.NewDiscard())
	require.NoError(t, err)

	_, err = client.Entities(context.Background())
	var subErr *SubscriptionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, ErrorKindRequest, subErr.Kind)
}
