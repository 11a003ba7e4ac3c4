package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/stream"
)

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport carries Messages between two peers in order.
type Transport interface {
	SendMessage(msg Message) error
	// OnMessage registers fn for inbound messages. Messages are delivered
	// from a single goroutine in wire order.
	OnMessage(fn func(Message)) event.Subscription
	Codec() Codec
	Close() error
	// Done is closed when the transport stops, by Close or by the peer.
	Done() <-chan struct{}
	Err() error
}

// StreamTransport frames Messages onto a pair of streams. Inbound frames are
// pulled by one reader goroutine, started when the first listener registers.
type StreamTransport struct {
	codec  Codec
	in     stream.Readable
	out    stream.Writable
	logger *zap.Logger

	onMessage event.Event[Message]
	start     sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport wraps in and out. Frames are []byte values.
func NewStreamTransport(in stream.Readable, out stream.Writable, codec Codec, logger *zap.Logger) *StreamTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamTransport{
		codec:  codec,
		in:     in,
		out:    out,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Pipe returns two connected in-process transports.
func Pipe(codec Codec, logger *zap.Logger) (*StreamTransport, *StreamTransport) {
	aToB, bToA := stream.New(), stream.New()
	return NewStreamTransport(bToA, aToB, codec, logger), NewStreamTransport(aToB, bToA, codec, logger)
}

func (t *StreamTransport) Codec() Codec { return t.codec }

// SendMessage encodes msg and writes it to the outbound stream.
func (t *StreamTransport) SendMessage(msg Message) error {
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
	if err := t.out.Write(frame, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *StreamTransport) OnMessage(fn func(Message)) event.Subscription {
	sub := t.onMessage.Listen(fn)
	t.start.Do(func() { go t.readLoop() })
	return sub
}

func (t *StreamTransport) readLoop() {
	for {
		v, err := t.in.Next(t.ctx)
		if errors.Is(err, stream.ErrEnded) {
			t.shutdown(nil)
			return
		}
		if err != nil {
			if t.ctx.Err() == nil {
				t.shutdown(err)
			}
			return
		}

		frame, ok := v.([]byte)
		if !ok {
			t.logger.Warn("Dropping non-binary frame", zap.String("type", fmt.Sprintf("%T", v)))
			continue
		}
		msg, err := t.codec.DecodeMessage(frame)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		t.onMessage.Fire(msg)
	}
}

// Close ends the outbound stream and stops reading.
func (t *StreamTransport) Close() error {
	t.shutdown(nil)
	return nil
}

func (t *StreamTransport) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	t.mu.Unlock()

	t.cancel()
	if !t.out.Ended() && !t.out.Closed() {
		_ = t.out.End()
	}
	close(t.done)
}

func (t *StreamTransport) Done() <-chan struct{} { return t.done }

// Err returns the error that stopped the transport, if any.
func (t *StreamTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
