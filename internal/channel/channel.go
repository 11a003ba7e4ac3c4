// Package channel correlates requests with responses over a Transport.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/transport"
)

// DefaultTimeout bounds a request that receives no response.
const DefaultTimeout = 30 * time.Second

// RequestHandler answers one inbound request. The returned payload is sent
// as the response; errors must be encoded into it by the handler.
type RequestHandler func(ctx context.Context, payload []byte) []byte

// EventHandler receives inbound events in wire order.
type EventHandler func(payload []byte)

// ErrorEncoder turns an error into a response payload.
type ErrorEncoder func(err error) []byte

// Channel sends requests and matches responses by subject
type Channel struct {
	transport transport.Transport
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[string]chan []byte // Protected by mu
	handler  RequestHandler         // Protected by mu
	encodeFn ErrorEncoder           // Protected by mu
	early    []transport.Message    // Protected by mu
	closed   bool                   // Protected by mu
	closeErr error                  // Protected by mu

	// eventMu serializes event delivery so replayed events keep wire order
	eventMu     sync.Mutex
	onEvent     EventHandler        // Protected by eventMu
	earlyEvents []transport.Message // Protected by eventMu

	ctx    context.Context
	cancel context.CancelFunc
	sub    event.Subscription
}

// Option configures a Channel
type Option func(*Channel)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithMetrics enables metrics
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Channel) { c.metrics = metrics }
}

// New starts a channel on t. The channel closes when t stops.
func New(t transport.Transport, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		transport: t,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		pending:   make(map[string]chan []byte),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sub = t.OnMessage(c.onMessage)
	go func() {
		select {
		case <-t.Done():
			c.shutdown(fserr.Runtime("channel closed"))
		case <-ctx.Done():
		}
	}()
	return c
}

// Codec returns the codec payloads must be encoded with
func (c *Channel) Codec() transport.Codec {
	return c.transport.Codec()
}

// Handle sets the handler for inbound requests. Each request runs on its own
// goroutine, so responses may be sent out of order. Requests received
// before the first handler was set are served now.
func (c *Channel) Handle(h RequestHandler) {
	c.mu.Lock()
	c.handler = h
	early := c.early
	c.early = nil
	c.mu.Unlock()

	for _, msg := range early {
		go c.serve(h, msg)
	}
}

// HandlePanics sets how a request whose handler panicked is answered.
// Without it the panic is logged and the request gets no response.
func (c *Channel) HandlePanics(enc ErrorEncoder) {
	c.mu.Lock()
	c.encodeFn = enc
	c.mu.Unlock()
}

// HandleEvents sets the handler for inbound events. Events received before
// the first handler was set are delivered first, in order.
func (c *Channel) HandleEvents(h EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.onEvent = h
	for _, msg := range c.earlyEvents {
		c.deliver(msg.Payload)
	}
	c.earlyEvents = nil
}

// maxEarly bounds the messages held while no handler is set.
const maxEarly = 256

// SendRequest sends payload and waits for the matching response. It fails
// with Runtime("timeout") when the timeout elapses, with the context's error
// when ctx ends first and with Runtime("channel closed") when the channel
// closes. In every failure case the pending entry is evicted, so a late
// response is dropped.
func (c *Channel) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	return c.SendRequestTimeout(ctx, payload, c.timeout)
}

// SendRequestTimeout is SendRequest with its own timeout. Zero waits until
// the context ends or the channel closes.
func (c *Channel) SendRequestTimeout(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	subject := strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan []byte, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[subject] = reply
	c.mu.Unlock()
	c.metrics.AddChannelPending(1)

	finish := func(status string) {
		c.evict(subject)
		c.metrics.RecordChannelRequest(status, time.Since(start))
	}

	err := c.transport.SendMessage(transport.Message{Subject: subject, Name: transport.NameRequest, Payload: payload})
	if err != nil {
		finish("error")
		return nil, fserr.Runtime(err.Error())
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case resp := <-reply:
		c.metrics.RecordChannelRequest("ok", time.Since(start))
		return resp, nil
	case <-ctx.Done():
		finish("cancelled")
		return nil, ctx.Err()
	case <-expired:
		finish("timeout")
		c.logger.Warn("Request timed out", zap.String("subject", subject), zap.Duration("timeout", timeout))
		return nil, fserr.Runtime("timeout")
	case <-c.ctx.Done():
		// a response may have raced the close
		select {
		case resp := <-reply:
			c.metrics.RecordChannelRequest("ok", time.Since(start))
			return resp, nil
		default:
		}
		finish("closed")
		return nil, c.Err()
	}
}

// evict removes a pending entry if it is still present.
func (c *Channel) evict(subject string) {
	c.mu.Lock()
	_, ok := c.pending[subject]
	delete(c.pending, subject)
	c.mu.Unlock()

	if ok {
		c.metrics.AddChannelPending(-1)
	}
}

// SendEvent sends payload without waiting for an answer.
func (c *Channel) SendEvent(payload []byte) error {
	c.mu.Lock()
	closed, closeErr := c.closed, c.closeErr
	c.mu.Unlock()
	if closed {
		return closeErr
	}

	if err := c.transport.SendMessage(transport.Message{Name: transport.NameEvent, Payload: payload}); err != nil {
		return fserr.Runtime(err.Error())
	}
	c.metrics.RecordChannelEvent("out")
	return nil
}

func (c *Channel) onMessage(msg transport.Message) {
	switch msg.Name {
	case transport.NameResponse:
		c.mu.Lock()
		reply, ok := c.pending[msg.Subject]
		delete(c.pending, msg.Subject)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("Dropping unmatched response", zap.String("subject", msg.Subject))
			return
		}
		c.metrics.AddChannelPending(-1)
		reply <- msg.Payload

	case transport.NameRequest:
		c.mu.Lock()
		h := c.handler
		if h == nil && len(c.early) < maxEarly {
			c.early = append(c.early, msg)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if h == nil {
			c.logger.Warn("Dropping request, no handler", zap.String("subject", msg.Subject))
			return
		}
		go c.serve(h, msg)

	case transport.NameEvent:
		c.metrics.RecordChannelEvent("in")

		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		if c.onEvent == nil {
			if len(c.earlyEvents) < maxEarly {
				c.earlyEvents = append(c.earlyEvents, msg)
			} else {
				c.logger.Debug("Dropping event, no handler")
			}
			return
		}
		c.deliver(msg.Payload)
	}
}

// deliver runs the event handler. Must hold eventMu.
func (c *Channel) deliver(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	c.onEvent(payload)
}

func (c *Channel) serve(h RequestHandler, msg transport.Message) {
	resp, ok := c.invoke(h, msg)
	if !ok {
		return
	}

	err := c.transport.SendMessage(transport.Message{Subject: msg.Subject, Name: transport.NameResponse, Payload: resp})
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		c.logger.Warn("Failed to send response", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// invoke runs h, turning a panic into the encoded Runtime error. ok is
// false when there is nothing to send back.
func (c *Channel) invoke(h RequestHandler, msg transport.Message) (resp []byte, ok bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		c.logger.Error("Request handler panicked",
			zap.String("subject", msg.Subject), zap.Any("panic", r), zap.Stack("stack"))

		c.mu.Lock()
		enc := c.encodeFn
		c.mu.Unlock()
		if enc == nil {
			resp, ok = nil, false
			return
		}
		resp, ok = enc(fserr.Runtime(fmt.Sprintf("handler panicked: %v", r))), true
	}()
	return h(c.ctx, msg.Payload), true
}

// Pending returns the number of requests waiting for a response
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed when the channel closes
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the error pending requests were rejected with, once closed
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close rejects pending requests and closes the transport.
func (c *Channel) Close() error {
	c.shutdown(fserr.Runtime("channel closed"))
	return c.transport.Close()
}

func (c *Channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	dropped := len(c.pending)
	c.pending = make(map[string]chan []byte)
	c.mu.Unlock()

	c.metrics.AddChannelPending(-dropped)
	c.sub.Unsubscribe()
	c.cancel()

	if dropped > 0 {
		c.logger.Info("Channel closed with pending requests", zap.Int("pending", dropped))
	}
}
