package fserr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the stable tag of an Error. Callers match on Kind, never on message text.
type Kind string

const (
	KindMissing                Kind = "missing"
	KindInvalid                Kind = "invalid"
	KindTypeMismatch           Kind = "type-mismatch"
	KindDuplicate              Kind = "duplicate"
	KindNotFound               Kind = "not-found"
	KindIncompatible           Kind = "incompatible"
	KindParentClosed           Kind = "parent-closed"
	KindNotImplemented         Kind = "not-implemented"
	KindRuntime                Kind = "runtime"
	KindUnknown                Kind = "unknown"
	KindInvalidStateTransition Kind = "invalid-state-transition"
)

// Error is a tagged error carrying structured context.
type Error struct {
	Kind   Kind           `json:"name"`
	Fields map[string]any `json:"value,omitempty"`
}

func newError(kind Kind, kv ...any) *Error {
	e := &Error{Kind: kind, Fields: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e.Fields[key] = kv[i+1]
	}
	return e
}

// Error renders the kind followed by its fields in key order.
func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return string(e.Kind)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, ", "))
}

// Is lets errors.Is match any *Error of the same kind, so the Kind sentinels
// below work as targets.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && len(t.Fields) == 0
}

// Field returns a single context value.
func (e *Error) Field(key string) any {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// Sentinels for errors.Is.
var (
	ErrMissing                = &Error{Kind: KindMissing}
	ErrInvalid                = &Error{Kind: KindInvalid}
	ErrTypeMismatch           = &Error{Kind: KindTypeMismatch}
	ErrDuplicate              = &Error{Kind: KindDuplicate}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrIncompatible           = &Error{Kind: KindIncompatible}
	ErrParentClosed           = &Error{Kind: KindParentClosed}
	ErrNotImplemented         = &Error{Kind: KindNotImplemented}
	ErrRuntime                = &Error{Kind: KindRuntime}
	ErrUnknown                = &Error{Kind: KindUnknown}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
)

func Missing(field string) *Error {
	return newError(KindMissing, "field", field)
}

func Invalid(typ string, value any) *Error {
	return newError(KindInvalid, "type", typ, "value", value)
}

func TypeMismatch(expected, got string) *Error {
	return newError(KindTypeMismatch, "expected", expected, "got", got)
}

func Duplicate(typ string, value any) *Error {
	return newError(KindDuplicate, "type", typ, "value", value)
}

func NotFound(typ string, value any) *Error {
	return newError(KindNotFound, "type", typ, "value", value)
}

// Incompatible reports that two values cannot be used together, e.g. an open
// mode that does not permit the requested operation.
func Incompatible(what string, have, want any) *Error {
	return newError(KindIncompatible, "what", what, "have", have, "want", want)
}

func ParentClosed(reason string, value any) *Error {
	return newError(KindParentClosed, "reason", reason, "value", value)
}

func NotImplemented(msg string) *Error {
	return newError(KindNotImplemented, "message", msg)
}

func Runtime(msg string) *Error {
	return newError(KindRuntime, "message", msg)
}

func Unknown(value any) *Error {
	return newError(KindUnknown, "value", value)
}

// InvalidStateTransition reports a lifecycle call made in the wrong state.
func InvalidStateTransition(current string, expected ...string) *Error {
	return newError(KindInvalidStateTransition, "current", current, "expected", strings.Join(expected, "|"))
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// From converts any error into an *Error. Foreign errors become Runtime.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Runtime(err.Error())
}

// Wire is the serialized form carried in an error-shaped response payload.
type Wire struct {
	Name  string         `json:"name" cbor:"name"`
	Value map[string]any `json:"value,omitempty" cbor:"value,omitempty"`
}

// ToWire renders err for transmission.
func ToWire(err error) *Wire {
	e := From(err)
	if e == nil {
		return nil
	}
	return &Wire{Name: string(e.Kind), Value: e.Fields}
}

// FromWire rebuilds an *Error received from a peer.
func FromWire(w *Wire) *Error {
	if w == nil {
		return nil
	}
	if w.Name == "" {
		return Unknown(w.Value)
	}
	fields := w.Value
	if fields == nil {
		fields = map[string]any{}
	}
	return &Error{Kind: Kind(w.Name), Fields: fields}
}
