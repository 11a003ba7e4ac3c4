package remote

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/stream"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

// linkStreams serves exports on one channel and imports on the other.
func linkStreams(t *testing.T, codec transport.Codec) (*exports, *imports) {
	t.Helper()

	a, b := transport.Pipe(codec, zap.NewNop())
	owner, reader := channel.New(a), channel.New(b)
	t.Cleanup(func() {
		_ = reader.Close()
		_ = owner.Close()
	})

	ex := newExports(owner, zap.NewNop(), nil)
	im := newImports(reader, zap.NewNop(), nil)
	owner.Handle(func(_ context.Context, payload []byte) []byte {
		var req Request
		if err := owner.Codec().Unmarshal(payload, &req); err != nil {
			return respond(owner.Codec(), nil, err)
		}
		result, err := ex.serve(req)
		return respond(owner.Codec(), result, err)
	})
	reader.HandleEvents(im.onEvent)
	return ex, im
}

func TestMirrorOrderAcrossFlowChanges(t *testing.T) {
	for _, codec := range []transport.Codec{transport.JSON, transport.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			ex, im := linkStreams(t, codec)
			source, target := stream.New(), stream.New()

			var mu sync.Mutex
			var got []string
			target.OnData(func(v any) {
				mu.Lock()
				got = append(got, v.(string))
				mu.Unlock()
			})
			ended := make(chan struct{})
			target.OnEnd(func() { close(ended) })

			im.Import(ex.Export(source), target)

			const n = 300
			want := make([]string, n)
			for i := range want {
				want[i] = strconv.Itoa(i)
			}
			go func() {
				for i := 0; i < n; i++ {
					_ = source.Write(want[i], nil)
					if i%5 == 0 {
						time.Sleep(200 * time.Microsecond)
					}
				}
				_ = source.End()
			}()

			for i := 0; i < 40; i++ {
				target.Resume()
				time.Sleep(500 * time.Microsecond)
				target.Pause()
				time.Sleep(500 * time.Microsecond)
			}
			target.Resume()

			select {
			case <-ended:
			case <-time.After(5 * time.Second):
				t.Fatal("mirror did not end")
			}

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, got, n)
			assert.Equal(t, want, got)
			assert.Zero(t, im.Len())
			assert.Zero(t, ex.Len())
		})
	}
}

func TestMalformedIDsRejected(t *testing.T) {
	ctx := context.Background()
	fs, err := memfs.New("home")
	require.NoError(t, err)

	a, b := transport.Pipe(transport.JSON, zap.NewNop())
	server, client := channel.New(a), channel.New(b)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	s := NewSkeleton(fs, server)

	tests := []struct {
		name string
		req  Request
		kind fserr.Kind
	}{
		{"read bogus context", Request{Cmd: CmdOpenRead, ContextID: "ctx_bogus", Read: &vfs.ReadRequest{}}, fserr.KindInvalid},
		{"stream id as context", Request{Cmd: CmdExecExecute, ContextID: id.ContextID(id.NewStreamID())}, fserr.KindInvalid},
		{"close unknown context", Request{Cmd: CmdOpenClose, ContextID: id.NewContextID()}, fserr.KindNotFound},
		{"read bogus stream", Request{Cmd: CmdStreamRead, StreamID: "nope"}, fserr.KindInvalid},
		{"pause unknown stream", Request{Cmd: CmdStreamPause, StreamID: id.NewStreamID()}, fserr.KindNotFound},
		{"exec with bogus stdin", Request{
			Cmd:     CmdExecCreate,
			Path:    "home:/x",
			Streams: map[string]id.StreamID{"stdin": "stream_bogus"},
		}, fserr.KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.dispatch(ctx, tt.req)
			assert.True(t, fserr.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Zero(t, s.Live().Total())
}
