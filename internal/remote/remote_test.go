package remote_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/remote"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/stream"
	"github.com/GriffinCanCode/axiom/internal/transport"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

type fixture struct {
	fs       *memfs.FileSystem
	skeleton *remote.Skeleton
	stub     *remote.Stub
	server   *channel.Channel
	client   *channel.Channel
}

func newFixture(t *testing.T, codec transport.Codec) *fixture {
	t.Helper()

	fs, err := memfs.New("home")
	require.NoError(t, err)

	a, b := transport.Pipe(codec, zap.NewNop())
	server := channel.New(a)
	client := channel.New(b, channel.WithTimeout(2*time.Second))

	skeleton := remote.NewSkeleton(fs, server)
	stub, err := remote.NewStub("home", client)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = stub.Close()
		_ = server.Close()
	})
	return &fixture{fs: fs, skeleton: skeleton, stub: stub, server: server, client: client}
}

func p(spec string) path.Path { return path.Parse(spec) }

func codecs() []transport.Codec { return []transport.Codec{transport.JSON, transport.CBOR} }

func requireIdle(t *testing.T, s *remote.Skeleton) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Live().Total() == 0 }, 2*time.Second, 10*time.Millisecond,
		"skeleton still holds %+v", s.Live())
}

func TestNodeOperations(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, codec)

			require.NoError(t, f.stub.Mkdir(ctx, p("home:/docs")))
			local, err := f.fs.Stat(ctx, p("home:/docs"))
			require.NoError(t, err)
			remoteStat, err := f.stub.Stat(ctx, p("home:/docs"))
			require.NoError(t, err)
			assert.Equal(t, local, remoteStat)

			require.NoError(t, f.fs.WriteFile(p("home:/docs/a.txt"), []byte("hello")))
			entries, err := f.stub.List(ctx, p("home:/docs"))
			require.NoError(t, err)
			require.Contains(t, entries, "a.txt")
			assert.Equal(t, int64(5), *entries["a.txt"].Size)

			require.NoError(t, f.stub.Alias(ctx, p("home:/docs/a.txt"), p("home:/b.txt")))
			require.NoError(t, f.stub.Move(ctx, p("home:/docs/a.txt"), p("home:/docs/c.txt")))
			data, err := f.fs.ReadFile(p("home:/b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))

			require.NoError(t, f.stub.Unlink(ctx, p("home:/b.txt")))
			_, err = f.stub.Stat(ctx, p("home:/b.txt"))
			assert.True(t, fserr.Is(err, fserr.KindNotFound), "got %v", err)

			err = f.stub.Mkdir(ctx, p("home:/docs"))
			assert.True(t, fserr.Is(err, fserr.KindDuplicate), "got %v", err)
		})
	}
}

func TestLocalValidationStaysLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.JSON)

	_, err := f.stub.Stat(ctx, p("other:/x"))
	assert.True(t, fserr.Is(err, fserr.KindIncompatible))

	_, err = f.stub.Stat(ctx, path.Parse("bogus"))
	assert.True(t, fserr.Is(err, fserr.KindInvalid))
	assert.Zero(t, f.client.Pending())
}

func TestOpenContextRoundTrip(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, codec)

			w, err := f.stub.CreateOpenContext(p("home:/note.txt"), vfs.MustOpenMode("w"))
			require.NoError(t, err)
			_, err = w.Open(ctx)
			require.NoError(t, err)
			assert.Equal(t, ephemeral.StateReady, w.State())

			_, err = w.Read(ctx, vfs.ReadRequest{})
			assert.True(t, fserr.Is(err, fserr.KindIncompatible), "got %v", err)

			_, err = w.Write(ctx, vfs.WriteRequest{DataType: vfs.DataUTF8, Data: "hello"})
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := f.stub.CreateOpenContext(p("home:/note.txt"), vfs.MustOpenMode("r"))
			require.NoError(t, err)
			st, err := r.Open(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(5), *st.Size)

			pos, err := r.Seek(ctx, 1, vfs.WhenceBegin)
			require.NoError(t, err)
			assert.Equal(t, int64(1), pos)

			res, err := r.Read(ctx, vfs.ReadRequest{DataType: vfs.DataArrayBuffer})
			require.NoError(t, err)
			assert.Equal(t, []byte("ello"), res.Data)

			require.NoError(t, r.Close())
			requireIdle(t, f.skeleton)
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.JSON)

	oc, err := f.stub.CreateOpenContext(p("home:/missing"), vfs.MustOpenMode("r"))
	require.NoError(t, err)
	_, err = oc.Open(ctx)
	assert.True(t, fserr.Is(err, fserr.KindNotFound), "got %v", err)
	assert.Equal(t, ephemeral.StateError, oc.State())
	assert.Zero(t, f.skeleton.Live().OpenContexts)
}

func TestOutOfRangeOffsets(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, codec)
			require.NoError(t, f.fs.WriteFile(p("home:/x"), []byte("hello")))

			oc, err := f.stub.CreateOpenContext(p("home:/x"), vfs.MustOpenMode("r+"))
			require.NoError(t, err)
			_, err = oc.Open(ctx)
			require.NoError(t, err)

			_, err = oc.Write(ctx, vfs.WriteRequest{Offset: 1 << 62, Data: "x"})
			assert.True(t, fserr.Is(err, fserr.KindInvalid), "got %v", err)

			res, err := oc.Read(ctx, vfs.ReadRequest{Offset: 1, Length: vfs.ReadLength(math.MaxInt64)})
			require.NoError(t, err)
			assert.Equal(t, "ello", res.Data)

			// the server is still serving
			st, err := f.stub.Stat(ctx, p("home:/x"))
			require.NoError(t, err)
			assert.Equal(t, int64(5), *st.Size)
			require.NoError(t, oc.Close())
		})
	}
}

func TestUnknownContextID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.JSON)

	oc, err := f.stub.CreateOpenContext(p("home:/x"), vfs.MustOpenMode("w"))
	require.NoError(t, err)
	_, err = oc.Open(ctx)
	require.NoError(t, err)

	// the filesystem closing evicts the server side context
	require.NoError(t, f.fs.Close())
	require.Eventually(t, func() bool { return f.skeleton.Live().OpenContexts == 0 }, time.Second, 10*time.Millisecond)

	_, err = oc.Write(ctx, vfs.WriteRequest{DataType: vfs.DataUTF8, Data: "x"})
	assert.True(t, fserr.Is(err, fserr.KindNotFound), "got %v", err)
}

func TestExecuteNative(t *testing.T) {
	for _, codec := range codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, codec)

			upper := &vfs.Executable{
				Signature: vfs.Signature{Params: []vfs.Param{{Name: "suffix", Type: vfs.TypeString}}},
				Run: func(ctx context.Context, ec vfs.ExecuteContext) (any, error) {
					in, err := stream.ReadAll(ctx, ec.Stdio().Stdin)
					if err != nil {
						return nil, err
					}
					out := strings.ToUpper(string(in)) + ec.Env()["SUFFIX"]
					if err := ec.Stdio().Stdout.Write([]byte(out), nil); err != nil {
						return nil, err
					}
					return "done", nil
				},
			}
			require.NoError(t, f.fs.AddExecutable(p("home:/upper"), upper))

			ec, err := f.stub.CreateExecuteContext(p("home:/upper"), vfs.Arg{})
			require.NoError(t, err)
			ec.SetEnv(map[string]string{"SUFFIX": "!"})
			require.NoError(t, ec.Stdio().Stdin.Write("hello ", nil))
			require.NoError(t, ec.Stdio().Stdin.Write([]byte("world"), nil))
			require.NoError(t, ec.Stdio().Stdin.End())

			result, err := ec.Execute(ctx)
			require.NoError(t, err)
			assert.Equal(t, "done", result)

			out, err := stream.ReadAll(ctx, ec.Stdio().Stdout)
			require.NoError(t, err)
			assert.Equal(t, "HELLO WORLD!", string(out))
			assert.Equal(t, ephemeral.StateClosed, ec.State())

			requireIdle(t, f.skeleton)
		})
	}
}

func TestExecuteScript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.CBOR)

	src := "var line; while ((line = stdin.read()) !== null) { stdout.write(line + ';') } arg.tag"
	require.NoError(t, f.fs.AddScript(p("home:/join.js"), []byte(src), vfs.Signature{Extra: true}))

	ec, err := f.stub.CreateExecuteContext(p("home:/join.js"), vfs.Arg{"tag": "ok"})
	require.NoError(t, err)

	// stdin is written after the execution has started
	go func() {
		for _, s := range []string{"a", "b", "c"} {
			_ = ec.Stdio().Stdin.Write(s, nil)
		}
		_ = ec.Stdio().Stdin.End()
	}()

	result, err := ec.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	out, err := stream.ReadAll(ctx, ec.Stdio().Stdout)
	require.NoError(t, err)
	assert.Equal(t, "a;b;c;", string(out))
}

func TestExecuteFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.JSON)

	ec, err := f.stub.CreateExecuteContext(p("home:/nothing"), nil)
	require.NoError(t, err)
	_, err = ec.Execute(ctx)
	assert.True(t, fserr.Is(err, fserr.KindNotFound), "got %v", err)

	// outputs end even though nothing ran
	_, err = stream.ReadAll(ctx, ec.Stdio().Stdout)
	require.NoError(t, err)

	boom := &vfs.Executable{Run: func(ctx context.Context, ec vfs.ExecuteContext) (any, error) {
		return nil, fserr.Runtime("boom")
	}}
	require.NoError(t, f.fs.AddExecutable(p("home:/boom"), boom))

	ec, err = f.stub.CreateExecuteContext(p("home:/boom"), nil)
	require.NoError(t, err)
	_, err = ec.Execute(ctx)
	require.Error(t, err)
	assert.True(t, fserr.Is(err, fserr.KindRuntime))
	assert.Equal(t, "boom", fserr.From(err).Field("message"))

	_, err = ec.Execute(ctx)
	assert.True(t, fserr.Is(err, fserr.KindInvalidStateTransition))

	requireIdle(t, f.skeleton)
}

func TestChannelTimeout(t *testing.T) {
	ctx := context.Background()

	// no skeleton behind the server channel, so requests are never answered
	a, b := transport.Pipe(transport.JSON, zap.NewNop())
	server := channel.New(a)
	client := channel.New(b, channel.WithTimeout(50*time.Millisecond))
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	stub, err := remote.NewStub("home", client)
	require.NoError(t, err)

	_, err = stub.Stat(ctx, p("home:/"))
	assert.True(t, fserr.Is(err, fserr.KindRuntime), "got %v", err)
	assert.Equal(t, "timeout", fserr.From(err).Field("message"))
	assert.Zero(t, client.Pending())
}

func TestChannelCloseClosesStub(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, transport.JSON)

	oc, err := f.stub.CreateOpenContext(p("home:/x"), vfs.MustOpenMode("w"))
	require.NoError(t, err)
	_, err = oc.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, f.server.Close())

	select {
	case <-f.stub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stub did not close")
	}
	assert.Equal(t, ephemeral.StateClosed, oc.State())
	o, _ := oc.Outcome()
	assert.True(t, fserr.Is(o.Err(), fserr.KindParentClosed))
	requireIdle(t, f.skeleton)

	_, err = f.stub.Stat(ctx, p("home:/"))
	assert.Error(t, err)
}
