package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apiclient "github.com/GriffinCanCode/axiom/internal/api/client"
	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/remote"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// client mounts one stub per root it touches, dialed on first use.
type client struct {
	server  *url.URL
	codec   transport.Codec
	timeout time.Duration
	logger  *zap.Logger
	dialer  *websocket.Dialer
	mounts  *vfs.Manager
	api     *apiclient.Client

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	mu sync.Mutex
}

func newClient(server, codecName string, timeout time.Duration, logger *zap.Logger) (*client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	codec, err := transport.CodecByName(codecName)
	if err != nil {
		return nil, err
	}

	apiCfg := apiclient.DefaultConfig(u.String())
	apiCfg.Timeout = timeout
	apiCfg.Logger = logger

	return &client{
		server:  u,
		codec:   codec,
		timeout: timeout,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		mounts:  vfs.NewManager(logger),
		api:     apiclient.New(apiCfg),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}, nil
}

// fsFor returns the stub serving p's root.
func (c *client) fsFor(ctx context.Context, p path.Path) (vfs.FileSystem, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid path %q", p.Spec())
	}
	return c.mount(ctx, p.Root())
}

func (c *client) mount(ctx context.Context, root string) (vfs.FileSystem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fs, err := c.mounts.Get(root); err == nil {
		return fs, nil
	}

	u := *c.server
	u.Path = strings.TrimSuffix(u.Path, "/") + "/mount/" + url.PathEscape(root)
	u.RawQuery = url.Values{"codec": {c.codec.Name()}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("mount %s: %s", root, resp.Status)
		}
		return nil, fmt.Errorf("mount %s: %w", root, err)
	}
	c.logger.Debug("Connected", zap.String("mount", root), zap.String("url", u.String()))

	ch := channel.New(
		transport.NewWebSocket(conn, c.codec, c.logger),
		channel.WithTimeout(c.timeout),
		channel.WithLogger(c.logger),
	)
	stub, err := remote.NewStub(root, ch, remote.WithLogger(c.logger))
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := c.mounts.Mount(stub); err != nil {
		_ = stub.Close()
		return nil, err
	}
	return stub, nil
}

func (c *client) close() {
	if err := c.mounts.Close(); err != nil {
		c.logger.Debug("Close failed", zap.Error(err))
	}
}
