package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// Stdio is the stream bundle of a running executable. The executable reads
// Stdin, TTYIn and Signal and writes Stdout, Stderr and TTYOut.
type Stdio struct {
	Stdin  *Stream
	Stdout *Stream
	Stderr *Stream
	TTYIn  *Stream
	TTYOut *Stream
	Signal *Stream
}

// NewStdio creates a bundle of fresh paused streams.
func NewStdio() *Stdio {
	return &Stdio{
		Stdin:  New(),
		Stdout: New(),
		Stderr: New(),
		TTYIn:  New(),
		TTYOut: New(),
		Signal: New(),
	}
}

// Inputs returns the streams written by the caller, keyed by name.
func (s *Stdio) Inputs() map[string]*Stream {
	return map[string]*Stream{"stdin": s.Stdin, "ttyin": s.TTYIn, "signal": s.Signal}
}

// Outputs returns the streams written by the executable, keyed by name.
func (s *Stdio) Outputs() map[string]*Stream {
	return map[string]*Stream{"stdout": s.Stdout, "stderr": s.Stderr, "ttyout": s.TTYOut}
}

// EndOutputs ends every output stream that is still open.
func (s *Stdio) EndOutputs() {
	for _, out := range s.Outputs() {
		if !out.Ended() && !out.Closed() {
			out.End()
		}
	}
}

// ReadAll pulls every item until the stream ends and concatenates them.
// Items must be strings or byte slices.
func ReadAll(ctx context.Context, r Readable) ([]byte, error) {
	var buf bytes.Buffer
	for {
		v, err := r.Next(ctx)
		if errors.Is(err, ErrEnded) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}

		switch data := v.(type) {
		case string:
			buf.WriteString(data)
		case []byte:
			buf.Write(data)
		default:
			return buf.Bytes(), fmt.Errorf("unexpected stream item %T", v)
		}
	}
}
