package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/event"
)

// MaxFrameLength bounds a single frame on a ConnTransport.
const MaxFrameLength = 16 * 1024 * 1024

// ConnTransport frames Messages onto a byte stream as a 4-byte big-endian
// length followed by the encoded message.
type ConnTransport struct {
	conn   io.ReadWriteCloser
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

var _ Transport = (*ConnTransport)(nil)

// NewConn wraps conn. Reading starts when the first listener registers.
func NewConn(conn io.ReadWriteCloser, codec Codec, logger *zap.Logger) *ConnTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnTransport{
		conn:   conn,
		codec:  codec,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (t *ConnTransport) Codec() Codec { return t.codec }

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameLength {
		return fmt.Errorf("frame length %d exceeds maximum %d", len(frame), MaxFrameLength)
	}
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLength {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameLength)
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *ConnTransport) SendMessage(msg Message) error {
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

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := WriteFrame(t.conn, frame); err != nil {
		t.shutdown(err)
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *ConnTransport) OnMessage(fn func(Message)) event.Subscription {
	sub := t.onMessage.Listen(fn)
	t.start.Do(func() { go t.readLoop() })
	return sub
}

func (t *ConnTransport) readLoop() {
	for {
		frame, err := ReadFrame(t.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			t.shutdown(err)
			return
		}
		msg, err := t.codec.DecodeMessage(frame)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		t.onMessage.Fire(msg)
	}
}

func (t *ConnTransport) Close() error {
	t.shutdown(nil)
	return nil
}

func (t *ConnTransport) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	t.mu.Unlock()

	if closeErr := t.conn.Close(); closeErr != nil {
		t.logger.Debug("Closing connection", zap.Error(closeErr))
	}
	close(t.done)
}

func (t *ConnTransport) Done() <-chan struct{} { return t.done }

func (t *ConnTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
