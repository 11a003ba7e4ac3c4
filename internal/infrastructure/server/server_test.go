package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/config"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	manifest := filepath.Join(t.TempDir(), "mounts.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
mounts:
  - name: home
    files:
      - {path: docs/a.txt, content: a}
      - {path: docs/b.md, content: b}
`), 0o644))

	cfg := config.Default()
	cfg.Mounts.Names = []string{"tmp"}
	cfg.Mounts.Manifest = manifest
	cfg.RateLimit.Enabled = false

	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, s *Server, url string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, []any{"home", "tmp"}, body["mounts"])
}

func TestListMounts(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/mounts")
	assert.Equal(t, http.StatusOK, code)
	mounts, ok := body["mounts"].([]any)
	require.True(t, ok)
	require.Len(t, mounts, 2)
	first := mounts[0].(map[string]any)
	assert.Equal(t, "home", first["name"])
	assert.Equal(t, "home:/", first["root"])
	assert.Equal(t, "ready", first["state"])
}

func TestGlob(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/mounts/home/glob?pattern=/docs/*.txt")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"home:/docs/a.txt"}, body["matches"])

	code, _ = get(t, s, "/mounts/nope/glob?pattern=/*")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, s, "/mounts/home/glob")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	get(t, s, "/health")

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "axiom_http_requests_total")
	assert.Contains(t, w.Body.String(), "axiom_mounts_active 2")
}

func TestBadCodec(t *testing.T) {
	cfg := config.Default()
	cfg.Channel.Codec = "xml"
	_, err := New(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mounts/home/archive?compression=none&path=/docs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-tar", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "docs.tar")
	assert.Contains(t, w.Body.String(), "a.txt")

	code, _ := get(t, s, "/mounts/home/archive?compression=rar")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, s, "/mounts/home/archive?path=/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRemoteManifest(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mounts:\n  - name: web\n    dirs: [static]\n"))
	}))
	defer remote.Close()

	cfg := config.Default()
	cfg.Mounts.Manifest = remote.URL + "/mounts.yaml"
	cfg.RateLimit.Enabled = false
	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"home", "web"}, s.Mounts().Names())
}
