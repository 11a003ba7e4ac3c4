package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/remote"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

func newServer(t *testing.T) (*httptest.Server, *vfs.Manager, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mounts := vfs.NewManager(nil)
	fs, err := memfs.New("home")
	require.NoError(t, err)
	require.NoError(t, mounts.Mount(fs))

	h := NewHandler(mounts, Config{Timeout: 2 * time.Second})
	router := gin.New()
	router.GET("/mount/:name", h.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv, mounts, h
}

func dial(t *testing.T, srv *httptest.Server, mount string, codec transport.Codec) *remote.Stub {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mount/" + mount + "?codec=" + codec.Name()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	ch := channel.New(transport.NewWebSocket(conn, codec, zap.NewNop()))
	stub, err := remote.NewStub(mount, ch)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stub.Close() })
	return stub
}

func TestMountOverWebSocket(t *testing.T) {
	for _, codec := range []transport.Codec{transport.JSON, transport.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			srv, _, h := newServer(t)
			stub := dial(t, srv, "home", codec)

			require.NoError(t, stub.Mkdir(ctx, path.Parse("home:/a")))
			st, err := stub.Stat(ctx, path.Parse("home:/a"))
			require.NoError(t, err)
			assert.True(t, st.IsDir())

			sessions := h.Sessions()
			require.Len(t, sessions, 1)
			assert.Equal(t, "home", sessions[0].Mount)
		})
	}
}

func TestUnknownMount(t *testing.T) {
	srv, _, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mount/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestUnmountDropsConnection(t *testing.T) {
	srv, mounts, h := newServer(t)
	stub := dial(t, srv, "home", transport.JSON)

	require.Eventually(t, func() bool { return len(h.Sessions()) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, mounts.Unmount("home"))

	select {
	case <-stub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stub still open after unmount")
	}
	require.Eventually(t, func() bool { return len(h.Sessions()) == 0 }, time.Second, 10*time.Millisecond)
}
