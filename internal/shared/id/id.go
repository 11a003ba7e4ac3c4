// Package id provides ULID-backed identifiers for remote resources.
//
// Every resource a skeleton or stub hands across the wire (open contexts,
// execute contexts, exported streams) is keyed by a prefixed ULID. IDs are
// never reused, so a stale id after close is reported as not-found rather than
// silently addressing a newer resource.
//
// Prefixes keep logs readable and stop one kind of id from being used as
// another:
//   - ctx_*: open and execute contexts
//   - stream_*: exported streams
//   - conn_*: transport connections (logging only)
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

// ContextID identifies an open or execute context tracked by a skeleton
type ContextID string

// StreamID identifies an exported stream
type StreamID string

// ConnID identifies a transport connection
type ConnID string

const (
	ContextPrefix = "ctx"
	StreamPrefix  = "stream"
	ConnPrefix    = "conn"
)

// source hands out monotonic ULIDs; ids minted in the same millisecond still
// sort in creation order.
type source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var ids = &source{entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}

func (s *source) next(prefix string) string {
	s.mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
	s.mu.Unlock()
	return prefix + "_" + u.String()
}

// NewContextID generates a new context ID
func NewContextID() ContextID { return ContextID(ids.next(ContextPrefix)) }

// NewStreamID generates a new stream ID
func NewStreamID() StreamID { return StreamID(ids.next(StreamPrefix)) }

// NewConnID generates a new connection ID
func NewConnID() ConnID { return ConnID(ids.next(ConnPrefix)) }

func (id ContextID) String() string { return string(id) }
func (id StreamID) String() string  { return string(id) }
func (id ConnID) String() string    { return string(id) }

// Check fails with Invalid unless id is a well-formed context id.
func (id ContextID) Check() error { return check(string(id), ContextPrefix, "context-id") }

// Check fails with Invalid unless id is a well-formed stream id.
func (id StreamID) Check() error { return check(string(id), StreamPrefix, "stream-id") }

func check(id, prefix, typ string) error {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return fserr.Invalid(typ, id)
	}
	if _, err := ulid.ParseStrict(rest); err != nil {
		return fserr.Invalid(typ, id)
	}
	return nil
}
