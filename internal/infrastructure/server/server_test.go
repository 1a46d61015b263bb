package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	cfg.Storage.Dir = t.TempDir()
	cfg.Downloads.Dir = t.TempDir()
	cfg.Surface.Kind = config.SurfaceRemote
	return cfg
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServerRoutes(t *testing.T) {
	srv, err := NewServer(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer srv.Close()

	h := srv.Handler()

	w := request(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = request(t, h, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://www.google.com", "bootstrap opened the home page")

	w = request(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServerPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	srv, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	w := request(t, srv.Handler(), http.MethodPost, "/api/bookmarks", `{"url":"https://go.dev","title":"Go"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = request(t, srv.Handler(), http.MethodPatch, "/api/settings", `{"darkMode":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, srv.Close())

	srv, err = NewServer(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close()

	_, ok := srv.store.BookmarkByURL("https://go.dev")
	assert.True(t, ok)
	assert.False(t, srv.store.Settings().DarkMode)
	assert.Len(t, srv.store.Tabs(), 1, "the restored tab is reused")
}

func TestServerKeepsCorruptStateAside(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	kv, err := newKV(cfg.Storage)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, cfg.Storage.Key, []byte("{truncated")))

	srv, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	w := request(t, srv.Handler(), http.MethodPost, "/api/bookmarks", `{"url":"https://go.dev","title":"Go"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, srv.Close())

	kept, err := kv.Get(ctx, cfg.Storage.Key+".corrupt")
	require.NoError(t, err)
	assert.Equal(t, []byte("{truncated"), kept)
	_, err = kv.Get(ctx, cfg.Storage.Key)
	assert.NoError(t, err, "the fresh state is written under the original key")
}

func TestNewServerRejectsUnusableStorage(t *testing.T) {
	cfg := testConfig(t)
	blocker := t.TempDir() + "/file"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Storage.Dir = blocker + "/nested"

	_, err := NewServer(context.Background(), cfg)
	assert.Error(t, err)
}
