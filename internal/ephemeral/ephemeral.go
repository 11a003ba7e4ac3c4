package ephemeral

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

// State represents a lifecycle state
type State int

const (
	StateWait State = iota
	StateReady
	StateClosed
	StateError
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible without Reset.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Reason tags how an instance terminated.
type Reason string

const (
	ReasonOK    Reason = "ok"
	ReasonError Reason = "error"
)

// Outcome is the terminal reason and value of an instance.
type Outcome struct {
	Reason Reason
	Value  any
}

// Err returns the outcome value as an error when the reason is ReasonError.
func (o Outcome) Err() error {
	if o.Reason != ReasonError {
		return nil
	}
	if err, ok := o.Value.(error); ok {
		return err
	}
	return fserr.Unknown(o.Value)
}

// Handle is the read-only lifecycle surface shared by every Ephemeral,
// whatever its ready value type.
type Handle interface {
	State() State
	Done() <-chan struct{}
	Wait(ctx context.Context) (Outcome, error)
	Outcome() (Outcome, bool)
	OnTerminate(fn func(Outcome)) event.Subscription
	CloseOk(value any) error
	CloseError(value any) error
}

// Ephemeral is a Wait/Ready/Closed/Error state machine whose ready value is T.
type Ephemeral[T any] struct {
	mu      sync.Mutex
	state   State
	value   T
	outcome Outcome
	done    chan struct{}

	onReady     event.Event[T]
	onClose     event.Event[Outcome]
	onError     event.Event[Outcome]
	onTerminate event.Event[Outcome]

	deps event.Group
}

var _ Handle = (*Ephemeral[struct{}])(nil)

// New creates an instance in the Wait state.
func New[T any]() *Ephemeral[T] {
	return &Ephemeral[T]{
		state: StateWait,
		done:  make(chan struct{}),
	}
}

// State returns the current state.
func (e *Ephemeral[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Value returns the ready value and whether the instance has been readied.
func (e *Ephemeral[T]) Value() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	if e.state == StateWait || e.state == StateError {
		return zero, false
	}
	return e.value, true
}

// Ready moves Wait to Ready and stores value.
func (e *Ephemeral[T]) Ready(value T) error {
	e.mu.Lock()
	if e.state != StateWait {
		err := fserr.InvalidStateTransition(e.state.String(), StateWait.String())
		e.mu.Unlock()
		return err
	}
	e.state = StateReady
	e.value = value
	e.mu.Unlock()

	e.onReady.Fire(value)
	return nil
}

// CloseOk moves Ready to Closed with reason ok.
func (e *Ephemeral[T]) CloseOk(value any) error {
	e.mu.Lock()
	if e.state != StateReady {
		err := fserr.InvalidStateTransition(e.state.String(), StateReady.String())
		e.mu.Unlock()
		return err
	}
	return e.terminateLocked(StateClosed, Outcome{Reason: ReasonOK, Value: value})
}

// CloseError terminates the instance with reason error. From Ready it ends in
// Closed and fires OnClose; from Wait it ends in Error and fires OnError.
func (e *Ephemeral[T]) CloseError(value any) error {
	e.mu.Lock()
	switch e.state {
	case StateReady:
		return e.terminateLocked(StateClosed, Outcome{Reason: ReasonError, Value: value})
	case StateWait:
		return e.terminateLocked(StateError, Outcome{Reason: ReasonError, Value: value})
	default:
		err := fserr.InvalidStateTransition(e.state.String(), StateWait.String(), StateReady.String())
		e.mu.Unlock()
		return err
	}
}

// terminateLocked must be called with e.mu held; it releases the lock.
func (e *Ephemeral[T]) terminateLocked(state State, outcome Outcome) error {
	e.state = state
	e.outcome = outcome
	close(e.done)
	e.mu.Unlock()

	e.deps.Unsubscribe()

	if state == StateError {
		e.onError.Fire(outcome)
	} else {
		e.onClose.Fire(outcome)
	}
	e.onTerminate.Fire(outcome)
	return nil
}

// Reset returns a terminal instance to Wait with a fresh completion signal.
// Reset on a Wait instance is a no-op; on a Ready instance it is illegal.
func (e *Ephemeral[T]) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateWait:
		return nil
	case StateReady:
		return fserr.InvalidStateTransition(e.state.String(), StateWait.String(), StateClosed.String(), StateError.String())
	}

	var zero T
	e.state = StateWait
	e.value = zero
	e.outcome = Outcome{}
	e.done = make(chan struct{})
	e.deps = event.Group{}
	return nil
}

// Done is closed when the current lifecycle terminates.
func (e *Ephemeral[T]) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Outcome returns the terminal outcome, or false if not yet terminal.
func (e *Ephemeral[T]) Outcome() (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome, e.state.Terminal()
}

// Wait blocks until termination. It resolves with the outcome on Closed and
// fails with the outcome's error on Error.
func (e *Ephemeral[T]) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-e.Done():
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	e.mu.Lock()
	state, outcome := e.state, e.outcome
	e.mu.Unlock()

	if state == StateError {
		return outcome, outcome.Err()
	}
	return outcome, nil
}

// OnReady registers fn for the Wait to Ready transition.
func (e *Ephemeral[T]) OnReady(fn func(T)) event.Subscription {
	return e.onReady.Listen(fn)
}

// OnClose registers fn for termination in Closed.
func (e *Ephemeral[T]) OnClose(fn func(Outcome)) event.Subscription {
	return e.onClose.Listen(fn)
}

// OnError registers fn for termination in Error.
func (e *Ephemeral[T]) OnError(fn func(Outcome)) event.Subscription {
	return e.onError.Listen(fn)
}

// OnTerminate registers fn for either terminal state.
func (e *Ephemeral[T]) OnTerminate(fn func(Outcome)) event.Subscription {
	return e.onTerminate.Listen(fn)
}

// DependsOn force-closes e with ParentClosed when parent terminates first.
// The subscription is released when e terminates on its own.
func (e *Ephemeral[T]) DependsOn(parent Handle) {
	propagate := func(o Outcome) {
		e.mu.Lock()
		terminal := e.state.Terminal()
		e.mu.Unlock()
		if terminal {
			return
		}
		// A concurrent close may already have won.
		_ = e.CloseError(fserr.ParentClosed(string(o.Reason), o.Value))
	}

	if o, terminal := parent.Outcome(); terminal {
		propagate(o)
		return
	}
	e.deps.Add(parent.OnTerminate(propagate))

	// The parent may have terminated between the check and the subscription.
	if o, terminal := parent.Outcome(); terminal {
		propagate(o)
	}
}
