package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/axiom/internal/queue"
	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

// Ack is invoked when its item is dequeued.
type Ack func()

// Readable is the consumer side of a stream.
type Readable interface {
	Read() (any, bool, error)
	Next(ctx context.Context) (any, error)
	Pause()
	Resume()
	Flowing() bool
	Len() int
	OnData(fn func(any)) event.Subscription
	OnReadable(fn func()) event.Subscription
	OnEnd(fn func()) event.Subscription
	OnClose(fn func(error)) event.Subscription
	Close(err error)
}

// Writable is the producer side of a stream.
type Writable interface {
	Write(v any, ack Ack) error
	End() error
	Ended() bool
	Closed() bool
	OnClose(fn func(error)) event.Subscription
	Close(err error)
}

type entry struct {
	value any
	ack   Ack
}

// Stream is a FIFO with paused and flowing consumption modes.
type Stream struct {
	mu       sync.Mutex
	buf      *queue.Queue[entry]
	flowing  bool
	draining bool
	ended    bool
	endFired bool
	closed   bool
	closeErr error
	wake     chan struct{}

	onData     event.Event[any]
	onReadable event.Event[struct{}]
	onEnd      event.Event[struct{}]
	onClose    event.Event[error]
	onFlow     event.Event[bool]
}

var (
	_ Readable = (*Stream)(nil)
	_ Writable = (*Stream)(nil)
)

// New creates a paused, empty stream.
func New() *Stream {
	return &Stream{
		buf:  queue.New[entry](),
		wake: make(chan struct{}),
	}
}

// Pipe returns the two ends of a new stream.
func Pipe() (Readable, Writable) {
	s := New()
	return s, s
}

// notifyLocked wakes blocked Next callers. Must hold s.mu.
func (s *Stream) notifyLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Write enqueues v. It fails after End or Close.
func (s *Stream) Write(v any, ack Ack) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fserr.InvalidStateTransition("closed", "open")
	}
	if s.ended {
		s.mu.Unlock()
		return fserr.InvalidStateTransition("ended", "open")
	}

	wasEmpty := s.buf.Len() == 0
	s.buf.Push(entry{value: v, ack: ack})
	s.notifyLocked()

	if s.flowing {
		s.drainLocked()
		return nil
	}
	s.mu.Unlock()

	if wasEmpty {
		s.onReadable.Fire(struct{}{})
	}
	return nil
}

// drainLocked delivers queued items while flowing. It is entered with s.mu
// held and returns with it released. Only one drain loop runs at a time, so
// items written from inside a listener are delivered after the current one.
func (s *Stream) drainLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for s.flowing && !s.closed {
		e, ok := s.buf.Shift()
		if !ok {
			break
		}
		s.mu.Unlock()

		if e.ack != nil {
			e.ack()
		}
		s.onData.Fire(e.value)

		s.mu.Lock()
	}
	s.draining = false
	fireEnd := s.shouldFireEndLocked()
	s.mu.Unlock()

	if fireEnd {
		s.onEnd.Fire(struct{}{})
	}
}

// shouldFireEndLocked marks the end as fired when the backlog is drained.
func (s *Stream) shouldFireEndLocked() bool {
	if s.ended && !s.endFired && !s.closed && s.buf.Len() == 0 {
		s.endFired = true
		s.notifyLocked()
		return true
	}
	return false
}

// Read dequeues one item while paused. ok is false when the buffer is empty.
func (s *Stream) Read() (any, bool, error) {
	s.mu.Lock()
	if s.flowing {
		s.mu.Unlock()
		return nil, false, fserr.InvalidStateTransition("flowing", "paused")
	}

	e, ok := s.buf.Shift()
	fireEnd := s.shouldFireEndLocked()
	s.mu.Unlock()

	if ok && e.ack != nil {
		e.ack()
	}
	if fireEnd {
		s.onEnd.Fire(struct{}{})
	}
	return e.value, ok, nil
}

// Next blocks until an item is available and returns it, pausing the stream
// first. It returns ErrEnded once the stream has ended and drained, or the
// close error if the stream was closed.
func (s *Stream) Next(ctx context.Context) (any, error) {
	s.Pause()
	for {
		v, ok, err := s.Read()
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}

		s.mu.Lock()
		if s.buf.Len() > 0 {
			s.mu.Unlock()
			continue
		}
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = ErrEnded
			}
			return nil, err
		}
		if s.endFired || (s.ended && s.buf.Len() == 0) {
			s.mu.Unlock()
			return nil, ErrEnded
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ErrEnded is returned by Next once the stream has ended and drained.
var ErrEnded = errors.New("stream ended")

// Pause switches to paused mode.
func (s *Stream) Pause() {
	s.mu.Lock()
	if !s.flowing {
		s.mu.Unlock()
		return
	}
	s.flowing = false
	s.mu.Unlock()

	s.onFlow.Fire(false)
}

// Resume switches to flowing mode and drains the backlog.
func (s *Stream) Resume() {
	s.mu.Lock()
	if s.flowing || s.closed {
		s.mu.Unlock()
		return
	}
	s.flowing = true
	s.mu.Unlock()

	s.onFlow.Fire(true)

	s.mu.Lock()
	s.drainLocked()
}

// Flowing reports the current mode.
func (s *Stream) Flowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowing
}

// Len returns the number of buffered items.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// End marks that no more items will be written.
func (s *Stream) End() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fserr.InvalidStateTransition("closed", "open")
	}
	if s.ended {
		s.mu.Unlock()
		return fserr.InvalidStateTransition("ended", "open")
	}
	s.ended = true
	fireEnd := !s.draining && s.shouldFireEndLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if fireEnd {
		s.onEnd.Fire(struct{}{})
	}
	return nil
}

// Ended reports whether End has been called.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the stream, dropping any backlog. err may be nil.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	s.buf.Clear()
	s.notifyLocked()
	s.mu.Unlock()

	s.onClose.Fire(err)
}

// OnData registers fn for items delivered while flowing.
func (s *Stream) OnData(fn func(any)) event.Subscription {
	return s.onData.Listen(fn)
}

// OnReadable registers fn for empty to non-empty transitions while paused.
func (s *Stream) OnReadable(fn func()) event.Subscription {
	return s.onReadable.Listen(func(struct{}) { fn() })
}

// OnEnd registers fn for the drained end of the stream.
func (s *Stream) OnEnd(fn func()) event.Subscription {
	return s.onEnd.Listen(func(struct{}) { fn() })
}

// OnClose registers fn for Close.
func (s *Stream) OnClose(fn func(error)) event.Subscription {
	return s.onClose.Listen(fn)
}

// OnFlow registers fn for mode changes; the argument is the new flowing state.
func (s *Stream) OnFlow(fn func(bool)) event.Subscription {
	return s.onFlow.Listen(fn)
}
