package client_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/api/client"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/config"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/logging"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/server"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs/archive"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

func fastConfig(url string) client.Config {
	cfg := client.DefaultConfig(url)
	cfg.MaxRetries = 1
	cfg.MinWait = time.Millisecond
	cfg.MaxWait = 5 * time.Millisecond
	return cfg
}

func newAPI(t *testing.T) *client.Client {
	t.Helper()

	manifest := filepath.Join(t.TempDir(), "mounts.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
mounts:
  - name: home
    files:
      - {path: docs/a.txt, content: alpha}
      - {path: docs/b.md, content: beta}
`), 0o644))

	cfg := config.Default()
	cfg.Mounts.Manifest = manifest
	cfg.RateLimit.Enabled = false
	srv, err := server.New(cfg, logging.NewNop())
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Close()
	})
	return client.New(fastConfig(hs.URL))
}

func TestAPI(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)

	health, err := api.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Mounts, "home")

	mounts, err := api.Mounts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, mounts)
	assert.Equal(t, "home:/", mounts[0].Root)

	matches, err := api.Glob(ctx, "home", "/docs/*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"home:/docs/a.txt"}, matches)

	_, err = api.Glob(ctx, "nope", "*")
	assert.True(t, fserr.Is(err, fserr.KindNotFound))
	assert.Equal(t, resilience.StateClosed, api.Breaker().State())
}

func TestArchiveDownload(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)

	var buf bytes.Buffer
	n, err := api.Archive(ctx, &buf, "home", "/docs", archive.Zstd)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	dst, err := memfs.New("dst")
	require.NoError(t, err)
	sum, err := archive.Extract(ctx, &buf, archive.Zstd, dst, dst.RootPath())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)

	data, err := dst.ReadFile(path.Parse("dst:/b.md"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))

	_, err = api.Archive(ctx, &buf, "home", "/docs/a.txt", archive.None)
	assert.True(t, fserr.Is(err, fserr.KindTypeMismatch))
}

func TestFetch(t *testing.T) {
	var hits atomic.Int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/mounts.yaml":
			_, _ = w.Write([]byte("mounts: []\n"))
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer hs.Close()

	cfg := fastConfig("")
	cfg.MaxRetries = 0
	cfg.Breaker = resilience.Settings{Failures: 2, Cooldown: time.Hour}
	c := client.New(cfg)
	ctx := context.Background()

	data, err := c.Fetch(ctx, hs.URL+"/mounts.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mounts: []\n", string(data))

	_, err = c.Fetch(ctx, hs.URL+"/missing")
	assert.Error(t, err)
	assert.Equal(t, resilience.StateClosed, c.Breaker().State())

	_, err = c.Fetch(ctx, "file:///etc/passwd")
	assert.True(t, fserr.Is(err, fserr.KindInvalid))

	for i := 0; i < 2; i++ {
		_, err = c.Fetch(ctx, hs.URL+"/down")
		assert.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, c.Breaker().State())

	before := hits.Load()
	_, err = c.Fetch(ctx, hs.URL+"/mounts.yaml")
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, before, hits.Load())
}
