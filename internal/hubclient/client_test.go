package hubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/retry"
	"github.com/your-org/sentinel/pkg/dto"
)

func newTestHub(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.HubConfig{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second},
		retry.Policy{MaxAttempts: 1})
}

func TestIngestSendsHeaders(t *testing.T) {
	eventID := uuid.New()
	c := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ingest", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "batch-token", r.Header.Get("X-Idempotency-Key"))

		var req dto.IngestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Events, 1)

		_ = json.NewEncoder(w).Encode(dto.IngestResponse{
			Outcomes: []models.IngestOutcome{{EventID: eventID, Status: models.IngestAccepted}},
		})
	}))

	outcomes, err := c.Ingest(context.Background(), []models.Event{{ID: eventID}}, "batch-token")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IngestAccepted, outcomes[0].Status)
}

func TestUnevaluatedCursorParams(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.New()

	c := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "500", q.Get("limit"))
		assert.Equal(t, ts.Format(time.RFC3339Nano), q.Get("after_ts"))
		assert.Equal(t, id.String(), q.Get("after_id"))
		_ = json.NewEncoder(w).Encode(dto.UnevaluatedResponse{})
	}))

	resp, err := c.Unevaluated(context.Background(), 500, &ts, &id)
	require.NoError(t, err)
	assert.Empty(t, resp.Events)
	assert.Nil(t, resp.NextAfterTS)
}

func TestLatestTimestampNilWhenUnset(t *testing.T) {
	c := newTestHub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "site-a", r.URL.Query().Get("site_id"))
		assert.Equal(t, "MOTION", r.URL.Query().Get("type"))
		_ = json.NewEncoder(w).Encode(dto.LatestTimestampResponse{})
	}))

	ts, err := c.LatestTimestamp(context.Background(), "site-a", models.EventTypeMotion)
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]models.Rule{})
	}))
	t.Cleanup(srv.Close)

	c := New(config.HubConfig{BaseURL: srv.URL, Timeout: 5 * time.Second},
		retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond})

	_, err := c.EnabledRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad batch"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(config.HubConfig{BaseURL: srv.URL, Timeout: 5 * time.Second},
		retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond})

	_, err := c.Ingest(context.Background(), []models.Event{{}}, "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are permanent")
}
