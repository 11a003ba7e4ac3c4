// Package event provides typed observer lists with explicit unsubscribe tokens.
//
// Listeners are invoked synchronously, in subscription order, outside the
// list's lock, so a listener may subscribe, unsubscribe or fire again.
package event

import "sync"

// Subscription is the token returned by Listen. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Event is a list of listeners for values of type T.
type Event[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

type subscription[T any] struct {
	event *Event[T]
	id    uint64
}

func (s *subscription[T]) Unsubscribe() {
	s.event.remove(s.id)
}

// Listen registers fn and returns its unsubscribe token.
func (e *Event[T]) Listen(fn func(T)) Subscription {
	return e.add(fn, false)
}

// Once registers fn for the next Fire only.
func (e *Event[T]) Once(fn func(T)) Subscription {
	return e.add(fn, true)
}

func (e *Event[T]) add(fn func(T), once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: e.nextID, fn: fn, once: once})
	return &subscription[T]{event: e, id: e.nextID}
}

func (e *Event[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Fire calls every listener with v.
func (e *Event[T]) Fire(v T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)

	kept := e.listeners[:0:0]
	for _, l := range e.listeners {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners = kept
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear drops every listener.
func (e *Event[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

// Group collects subscriptions so an owner can release them together.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
	done bool
}

// Add tracks sub. If the group was already released, sub is released at once.
func (g *Group) Add(sub Subscription) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	g.subs = append(g.subs, sub)
	g.mu.Unlock()
}

// Unsubscribe releases every tracked subscription.
func (g *Group) Unsubscribe() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.done = true
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
