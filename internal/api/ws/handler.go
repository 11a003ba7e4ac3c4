package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/remote"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // no authentication, any origin may mount
	},
}

// Config configures a Handler
type Config struct {
	Codec   transport.Codec
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Handler serves mounted filesystems over WebSocket connections, one
// Skeleton per connection.
type Handler struct {
	mounts  *vfs.Manager
	codec   transport.Codec
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	sessions map[id.ConnID]*session // Protected by mu
}

type session struct {
	mount    string
	ch       *channel.Channel
	skeleton *remote.Skeleton
}

// NewHandler creates a new WebSocket handler
func NewHandler(mounts *vfs.Manager, cfg Config) *Handler {
	if cfg.Codec == nil {
		cfg.Codec = transport.JSON
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		mounts:   mounts,
		codec:    cfg.Codec,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		sessions: make(map[id.ConnID]*session),
	}
}

// HandleConnection upgrades GET /mount/:name and serves the named mount
// until the connection or the filesystem closes. The codec may be picked
// per connection with ?codec=json|cbor.
func (h *Handler) HandleConnection(c *gin.Context) {
	name := c.Param("name")
	fs, err := h.mounts.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fserr.ToWire(err)})
		return
	}

	codec := h.codec
	if q := c.Query("codec"); q != "" {
		if codec, err = transport.CodecByName(q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	connID := id.NewConnID()
	logger := h.logger.With(zap.String("conn", connID.String()), zap.String("mount", name))

	t := transport.NewWebSocket(conn, codec, logger)
	ch := channel.New(t,
		channel.WithTimeout(h.timeout),
		channel.WithLogger(logger),
		channel.WithMetrics(h.metrics),
	)
	skeleton := remote.NewSkeleton(fs, ch, remote.WithLogger(logger), remote.WithMetrics(h.metrics))
	t.OnMessage(func(msg transport.Message) {
		h.metrics.RecordWSMessage("in", string(msg.Name))
	})

	h.mu.Lock()
	h.sessions[connID] = &session{mount: name, ch: ch, skeleton: skeleton}
	h.mu.Unlock()
	h.metrics.IncWSConnections()
	logger.Info("Client connected", zap.String("codec", codec.Name()))

	// unmounting drops the connections serving the mount
	sub := fs.OnTerminate(func(ephemeral.Outcome) { _ = ch.Close() })
	if fs.State().Terminal() {
		_ = ch.Close()
	}

	<-ch.Done()

	sub.Unsubscribe()
	_ = ch.Close()
	h.mu.Lock()
	delete(h.sessions, connID)
	h.mu.Unlock()
	h.metrics.DecWSConnections()
	logger.Info("Client disconnected", zap.Error(ch.Err()))
}

// SessionInfo describes one connected client
type SessionInfo struct {
	ID    id.ConnID   `json:"id"`
	Mount string      `json:"mount"`
	Live  remote.Live `json:"live"`
}

// Sessions lists the connected clients
func (h *Handler) Sessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SessionInfo, 0, len(h.sessions))
	for cid, s := range h.sessions {
		out = append(out, SessionInfo{ID: cid, Mount: s.mount, Live: s.skeleton.Live()})
	}
	return out
}

// Close drops every connection.
func (h *Handler) Close() {
	h.mu.Lock()
	chans := make([]*channel.Channel, 0, len(h.sessions))
	for _, s := range h.sessions {
		chans = append(chans, s.ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		_ = ch.Close()
	}
}
