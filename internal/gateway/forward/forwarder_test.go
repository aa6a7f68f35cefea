package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/shared/models"
)

func countingServer(t *testing.T, status int, body string, hits *atomic.Int64, capture *http.Request, captureBody *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if capture != nil {
			*capture = *r.Clone(context.Background())
		}
		if captureBody != nil {
			b, _ := io.ReadAll(r.Body)
			*captureBody = b
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestForwardFirstCandidateSucceeds(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := countingServer(t, http.StatusOK, `{"ok":true}`, &hitsA, nil, nil)
	srvB := countingServer(t, http.StatusOK, `{"ok":"b"}`, &hitsB, nil, nil)

	f := New(5 * time.Second)
	res, err := f.Forward(context.Background(), http.MethodPost, "/v1/chat/completions", "", nil, []byte(`{"model":"gpt-x"}`), []models.Backend{
		{Name: "a", BaseURL: srvA.URL},
		{Name: "b", BaseURL: srvB.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, "a", res.Backend)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, "yes", res.Header.Get("X-Upstream"))
	assert.Equal(t, int64(1), hitsA.Load())
	assert.Equal(t, int64(0), hitsB.Load())
}

func TestForwardFailsOverOnNon2xx(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := countingServer(t, http.StatusBadGateway, "nope", &hitsA, nil, nil)
	srvB := countingServer(t, http.StatusOK, "second", &hitsB, nil, nil)

	f := New(5 * time.Second)
	res, err := f.Forward(context.Background(), http.MethodGet, "/v1/models", "", nil, nil, []models.Backend{
		{Name: "a", BaseURL: srvA.URL},
		{Name: "b", BaseURL: srvB.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, "b", res.Backend)
	assert.Equal(t, "second", string(res.Body))
	// Each candidate is attempted exactly once.
	assert.Equal(t, int64(1), hitsA.Load())
	assert.Equal(t, int64(1), hitsB.Load())
}

func TestForwardFailsOverOnTimeout(t *testing.T) {
	var hitsB atomic.Int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)
	srvB := countingServer(t, http.StatusOK, "fallback", &hitsB, nil, nil)

	f := New(50 * time.Millisecond)
	res, err := f.Forward(context.Background(), http.MethodPost, "/v1/chat/completions", "", nil, []byte("{}"), []models.Backend{
		{Name: "slow", BaseURL: slow.URL},
		{Name: "b", BaseURL: srvB.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, "b", res.Backend)
	assert.Equal(t, "fallback", string(res.Body))
}

func TestForwardAllCandidatesFail(t *testing.T) {
	var hitsA atomic.Int64
	srvA := countingServer(t, http.StatusInternalServerError, "boom", &hitsA, nil, nil)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	f := New(time.Second)
	_, err := f.Forward(context.Background(), http.MethodPost, "/v1/chat/completions", "", nil, []byte("{}"), []models.Backend{
		{Name: "a", BaseURL: srvA.URL},
		{Name: "dead", BaseURL: dead.URL},
	})
	require.ErrorIs(t, err, ErrAllBackendsFailed)
	assert.Equal(t, int64(1), hitsA.Load())
}

func TestForwardReplacesAuthorizationWithUpstreamKey(t *testing.T) {
	var hits atomic.Int64
	var got http.Request
	srv := countingServer(t, http.StatusOK, "ok", &hits, &got, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer sk-gateway-key")
	header.Set("X-Custom", "kept")

	f := New(time.Second)
	_, err := f.Forward(context.Background(), http.MethodPost, "/v1/chat/completions", "", header, []byte("{}"), []models.Backend{
		{Name: "a", BaseURL: srv.URL, APIKey: "sk-upstream"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-upstream", got.Header.Get("Authorization"))
	assert.Equal(t, "kept", got.Header.Get("X-Custom"))
}

func TestForwardKeepsAuthorizationWithoutUpstreamKey(t *testing.T) {
	var hits atomic.Int64
	var got http.Request
	srv := countingServer(t, http.StatusOK, "ok", &hits, &got, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer sk-gateway-key")

	f := New(time.Second)
	_, err := f.Forward(context.Background(), http.MethodPost, "/v1/chat/completions", "", header, []byte("{}"), []models.Backend{
		{Name: "a", BaseURL: srv.URL},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-gateway-key", got.Header.Get("Authorization"))
}

func TestForwardBodyPassesThroughByteExact(t *testing.T) {
	var hits atomic.Int64
	var gotBody []byte
	srv := countingServer(t, http.StatusOK, "ok", &hits, nil, &gotBody)

	body := []byte("{\"model\":\"gpt-x\",\"messages\":[{\"role\":\"user\",\"content\":\"héllo\x00\"}]}")
	f := New(time.Second)
	_, err := f.Forward(context.Background(), http.MethodPut, "/anything", "stream=false", nil, body, []models.Backend{
		{Name: "a", BaseURL: srv.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, body, gotBody)
}

func TestForwardEmptyCandidateList(t *testing.T) {
	f := New(time.Second)
	_, err := f.Forward(context.Background(), http.MethodGet, "/", "", nil, nil, nil)
	require.ErrorIs(t, err, ErrAllBackendsFailed)
}
