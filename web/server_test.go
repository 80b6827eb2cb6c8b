package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/services"
	"vigil/transport"
)

func newTestServer(t *testing.T) (*Server, *services.Registry) {
	t.Helper()

	tr := transport.NewMockTransport()
	registry := services.NewRegistry(tr, services.SessionConfig{
		MinDelay:     5 * time.Millisecond,
		MaxDelay:     15 * time.Millisecond,
		ProbeTimeout: time.Minute,
		Method:       "text",
	}, nil, zap.NewNop())
	t.Cleanup(registry.Close)

	hub := NewHub(zap.NewNop())
	go hub.Run()

	return NewServer(registry, hub, zap.NewNop()), registry
}

func postForm(t *testing.T, mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_AddAndListTargets(t *testing.T) {
	server, _ := newTestServer(t)
	mux := server.ServeMux()

	w := postForm(t, mux, "/targets", url.Values{"target": {"alice"}})
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/targets", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Targets []string `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"alice"}, body.Targets)
}

func TestServer_AddTargetRequiresParam(t *testing.T) {
	server, _ := newTestServer(t)
	mux := server.ServeMux()

	w := postForm(t, mux, "/targets", url.Values{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_TargetsMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	mux := server.ServeMux()

	req := httptest.NewRequest(http.MethodDelete, "/targets", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_CommandDispatch(t *testing.T) {
	server, registry := newTestServer(t)
	mux := server.ServeMux()
	require.NoError(t, registry.Add("alice"))

	req := httptest.NewRequest(http.MethodPost, "/command",
		strings.NewReader(`{"action":"pause","target":"alice"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, registry.Snapshots()[0].Paused)

	req = httptest.NewRequest(http.MethodPost, "/command",
		strings.NewReader(`{"action":"explode","target":"alice"}`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`not json`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DelayConfig(t *testing.T) {
	server, registry := newTestServer(t)
	mux := server.ServeMux()

	w := postForm(t, mux, "/config/delay", url.Values{
		"min_delay_ms": {"1500"},
		"max_delay_ms": {"1600"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	minDelay, maxDelay := registry.DelayRange()
	assert.Equal(t, 1500, minDelay)
	assert.Equal(t, 1600, maxDelay)

	// An inverted range is rejected and the prior range stays active.
	w = postForm(t, mux, "/config/delay", url.Values{
		"min_delay_ms": {"1600"},
		"max_delay_ms": {"1500"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	minDelay, maxDelay = registry.DelayRange()
	assert.Equal(t, 1500, minDelay)
	assert.Equal(t, 1600, maxDelay)

	w = postForm(t, mux, "/config/delay", url.Values{"min_delay_ms": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
