package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketTransport sends one Message per WebSocket frame. Binary codecs
// use binary frames and text codecs use text frames.
type WebSocketTransport struct {
	conn   *websocket.Conn
	codec  Codec
	logger *zap.Logger

	onMessage event.Event[Message]
	start     sync.Once
	writeMu   sync.Mutex

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocket wraps an established connection. Reading and keepalive pings
// start when the first listener registers.
func NewWebSocket(conn *websocket.Conn, codec Codec, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{
		conn:   conn,
		codec:  codec,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *WebSocketTransport) Codec() Codec { return t.codec }

func (t *WebSocketTransport) frameType() int {
	if t.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (t *WebSocketTransport) SendMessage(msg Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	frame, err := t.codec.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := t.write(t.frameType(), frame); err != nil {
		t.shutdown(err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// write serializes writers; gorilla allows one concurrent writer.
func (t *WebSocketTransport) write(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(messageType, data)
}

func (t *WebSocketTransport) OnMessage(fn func(Message)) event.Subscription {
	sub := t.onMessage.Listen(fn)
	t.start.Do(func() {
		go t.readLoop()
		go t.pingLoop()
	})
	return sub
}

func (t *WebSocketTransport) readLoop() {
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				err = nil
			}
			t.shutdown(err)
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := t.codec.DecodeMessage(frame)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		t.onMessage.Fire(msg)
	}
}

func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.write(websocket.PingMessage, nil); err != nil {
				t.shutdown(err)
				return
			}
		case <-t.done:
			return
		}
	}
}

// Close sends a close frame and releases the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		t.writeMu.Unlock()
	}
	t.shutdown(nil)
	return nil
}

func (t *WebSocketTransport) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("WebSocket transport stopped", zap.Error(err))
	}
	_ = t.conn.Close()
	close(t.done)
}

func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

func (t *WebSocketTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
