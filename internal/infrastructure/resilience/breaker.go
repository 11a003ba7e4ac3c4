package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned without calling the operation while the breaker
// rejects calls.
var ErrOpen = errors.New("circuit open")

// State is the breaker position
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Settings configures a Breaker. Zero fields take the defaults.
type Settings struct {
	// Failures is the run of consecutive failures that opens the breaker.
	Failures int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	// Probes is the run of successful half-open calls that closes it again.
	Probes int
	// Trip decides whether an error counts as a failure. Context errors
	// never count.
	Trip func(err error) bool

	Logger *zap.Logger
	Now    func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.Failures <= 0 {
		s.Failures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Trip == nil {
		s.Trip = func(error) bool { return true }
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Breaker stops calling a dependency that keeps failing
type Breaker struct {
	name     string
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inflight  bool // a half-open probe is running
	openedAt  time.Time
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	return &Breaker{name: name, settings: settings.withDefaults()}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current position, moving Open to HalfOpen once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.setLocked(StateHalfOpen)
	}
}

func (b *Breaker) setLocked(s State) {
	if b.state == s {
		return
	}
	b.settings.Logger.Info("Circuit state changed",
		zap.String("breaker", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", s))
	b.state = s
	b.failures, b.successes, b.inflight = 0, 0, false
	if s == StateOpen {
		b.openedAt = b.settings.Now()
	}
}

// allow reserves a call slot. Half-open admits one probe at a time.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.inflight {
			return ErrOpen
		}
		b.inflight = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		b.settings.Trip(err)

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.settings.Failures {
			b.setLocked(StateOpen)
		}
	case StateHalfOpen:
		b.inflight = false
		if failed {
			b.setLocked(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.settings.Probes {
			b.setLocked(StateClosed)
		}
	}
}

// Do runs fn through b. It fails with ErrOpen without calling fn while the
// breaker is open.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}

	var v T
	var err error
	defer func() {
		if r := recover(); r != nil {
			b.record(errors.New("panic"))
			panic(r)
		}
		b.record(err)
	}()
	v, err = fn(ctx)
	return v, err
}
