package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/retry"
)

func testSourceConfig() config.SourceConfig {
	return config.SourceConfig{
		Username:   "svc",
		Password:   "secret",
		ClientName: "sentinel",
		UserNonce:  "nonce",
		UserKey:    "key",
		VerifySSL:  true,
		PageSize:   2,
		Timeout:    5 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("site-test-"+t.Name(), srv.URL, testSourceConfig(), retry.Policy{MaxAttempts: 1})
	return c, srv
}

func loginResponse(w http.ResponseWriter, session string) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result": map[string]string{"session": session},
	})
}

func TestLoginSendsAuthorizationToken(t *testing.T) {
	var got map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		loginResponse(w, "sess-1")
	}))

	require.NoError(t, c.Login(context.Background()))

	assert.Equal(t, "svc", got["username"])
	assert.Equal(t, "secret", got["password"])
	assert.Equal(t, "sentinel", got["clientName"])
	// nonce:epoch:hash
	assert.Regexp(t, `^nonce:\d+:[0-9a-f]{64}$`, got["authorizationToken"])
}

func TestSearchEventsPagination(t *testing.T) {
	var continueReqs []map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) { loginResponse(w, "sess-1") })
	mux.HandleFunc("/events/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("queryType") {
		case "TIME_RANGE":
			assert.Equal(t, "srv-1", q.Get("serverId"))
			assert.Equal(t, "2", q.Get("limit"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"events": []map[string]interface{}{
						{"type": MotionEventType, "cameraId": "cam-1", "timestamp": "2026-05-01T10:00:00Z"},
						{"type": MotionEventType, "cameraId": "cam-2", "timestamp": "2026-05-01T10:01:00Z"},
					},
					"token": "page-2",
				},
			})
		case "CONTINUE":
			continueReqs = append(continueReqs, q)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"events": []map[string]interface{}{
						{"type": MotionEventType, "cameraId": "cam-3", "timestamp": "2026-05-01T10:02:00Z"},
					},
					"token": "",
				},
			})
		default:
			t.Errorf("unexpected queryType %q", q.Get("queryType"))
		}
	})
	c, _ := newTestClient(t, mux)

	var collected []RawEvent
	err := c.SearchEvents(context.Background(), "srv-1",
		time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
		func(page []RawEvent) error {
			collected = append(collected, page...)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, collected, 3)
	assert.Equal(t, "srv-1", collected[0].ServerID)
	assert.NotEmpty(t, collected[0].Raw)

	require.Len(t, continueReqs, 1)
	q := continueReqs[0]
	assert.Equal(t, "page-2", q["token"][0])
	// Continuation requests carry only the token and session.
	assert.Empty(t, q["serverId"])
	assert.Empty(t, q["limit"])
	assert.Empty(t, q["from"])
}

func TestSearchAppearancesRunsBothDescriptorPasses(t *testing.T) {
	var descriptorTags []string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) { loginResponse(w, "sess-1") })
	mux.HandleFunc("/appearance/search-by-description", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["queryType"] == "TIME_RANGE" {
			descs := body["queryDescriptors"].([]interface{})
			tag := descs[0].(map[string]interface{})["tag"].(string)
			descriptorTags = append(descriptorTags, tag)
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"results": []map[string]interface{}{
					{
						"deviceGid": "cam-7",
						"timestamp": "2026-05-01T10:00:00Z",
						"snapshots": []map[string]string{{"timestamp": "2026-05-01T10:00:01Z"}},
					},
				},
				"token": "",
			},
		})
	})
	c, _ := newTestClient(t, mux)

	var collected []RawAppearance
	err := c.SearchAppearances(context.Background(),
		time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
		func(page []RawAppearance) error {
			collected = append(collected, page...)
			return nil
		})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"MALE", "FEMALE"}, descriptorTags)
	require.Len(t, collected, 2)
	assert.Equal(t, "cam-7", collected[0].CameraID)
	require.NotNil(t, collected[0].SnapshotTimestamp)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC), collected[0].SnapshotTimestamp.UTC())
}

func TestExpiredSessionTriggersOneRelogin(t *testing.T) {
	var logins, serverCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		loginResponse(w, fmt.Sprintf("sess-%d", n))
	})
	mux.HandleFunc("/server/ids", func(w http.ResponseWriter, r *http.Request) {
		serverCalls.Add(1)
		if r.URL.Query().Get("session") == "sess-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"servers": []map[string]string{{"id": "srv-1", "name": "main"}},
			},
		})
	})
	c, _ := newTestClient(t, mux)

	servers, err := c.Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "srv-1", servers[0].ID)
	assert.Equal(t, int32(2), logins.Load(), "initial login plus one refresh")
	assert.Equal(t, int32(2), serverCalls.Load(), "rejected call replayed once")
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) { loginResponse(w, "sess-1") })
	mux.HandleFunc("/server/ids", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient("site-noretry", srv.URL, testSourceConfig(), retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	})

	_, err := c.Servers(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are permanent")
}

func TestMediaFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) { loginResponse(w, "sess-1") })
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "cam-1", q.Get("cameraId"))
		assert.Equal(t, "jpeg", q.Get("format"))
		assert.NotEmpty(t, q.Get("t"))
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	c, _ := newTestClient(t, mux)

	data, err := c.Media(context.Background(), "cam-1", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}
