package remote

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// Stub is a FileSystem whose operations are served by a Skeleton on the
// other end of a Channel. Local validation failures never reach the wire.
type Stub struct {
	*vfs.BaseFileSystem
	ch      *channel.Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	exports *exports
	imports *imports
}

var _ vfs.FileSystem = (*Stub)(nil)

// NewStub mounts the peer's filesystem name over ch. Closing the stub
// closes the channel; a channel that fails closes the stub with its error.
func NewStub(name string, ch *channel.Channel, opts ...Option) (*Stub, error) {
	base, err := vfs.NewBaseFileSystem(name)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	logger := o.logger.With(zap.String("fs", name))
	s := &Stub{
		BaseFileSystem: base,
		ch:             ch,
		logger:         logger,
		metrics:        o.metrics,
		exports:        newExports(ch, logger, o.metrics),
		imports:        newImports(ch, logger, o.metrics),
	}

	ch.Handle(s.handle)
	ch.HandlePanics(panicResponse(ch))
	ch.HandleEvents(s.imports.onEvent)

	s.OnTerminate(func(ephemeral.Outcome) {
		_ = ch.Close()
	})
	go func() {
		<-ch.Done()
		err := ch.Err()
		if err == nil {
			err = fserr.Runtime("channel closed")
		}
		s.imports.closeAll(err)
		s.exports.release(false)
		_ = s.CloseError(err)
	}()
	return s, nil
}

// handle serves the streams this side exported, stdin of remote executions.
func (s *Stub) handle(_ context.Context, payload []byte) []byte {
	codec := s.ch.Codec()

	var req Request
	if err := codec.Unmarshal(payload, &req); err != nil {
		return respond(codec, nil, fserr.Invalid("request", err.Error()))
	}

	switch req.Cmd {
	case CmdStreamRead, CmdStreamPause, CmdStreamResume, CmdStreamClose:
		result, err := s.exports.serve(req)
		return respond(codec, result, err)
	default:
		return respond(codec, nil, fserr.NotImplemented(string(req.Cmd)))
	}
}

func (s *Stub) check(p path.Path) error {
	if err := vfs.CheckPath(s, p); err != nil {
		return err
	}
	return s.CheckReady()
}

func (s *Stub) Stat(ctx context.Context, p path.Path) (*vfs.StatResult, error) {
	if err := s.check(p); err != nil {
		return nil, err
	}
	return call[*vfs.StatResult](ctx, s.ch, Request{Cmd: CmdStat, Path: p.Spec()})
}

func (s *Stub) List(ctx context.Context, p path.Path) (map[string]*vfs.StatResult, error) {
	if err := s.check(p); err != nil {
		return nil, err
	}
	return call[map[string]*vfs.StatResult](ctx, s.ch, Request{Cmd: CmdList, Path: p.Spec()})
}

func (s *Stub) Mkdir(ctx context.Context, p path.Path) error {
	if err := s.check(p); err != nil {
		return err
	}
	_, err := call[any](ctx, s.ch, Request{Cmd: CmdMkdir, Path: p.Spec()})
	return err
}

func (s *Stub) Unlink(ctx context.Context, p path.Path) error {
	if err := s.check(p); err != nil {
		return err
	}
	_, err := call[any](ctx, s.ch, Request{Cmd: CmdUnlink, Path: p.Spec()})
	return err
}

func (s *Stub) Move(ctx context.Context, from, to path.Path) error {
	return s.relink(ctx, CmdMove, from, to)
}

func (s *Stub) Alias(ctx context.Context, from, to path.Path) error {
	return s.relink(ctx, CmdAlias, from, to)
}

func (s *Stub) relink(ctx context.Context, cmd Command, from, to path.Path) error {
	if err := s.check(from); err != nil {
		return err
	}
	if err := vfs.CheckPath(s, to); err != nil {
		return err
	}
	_, err := call[any](ctx, s.ch, Request{Cmd: cmd, Path: from.Spec(), To: to.Spec()})
	return err
}

// CreateOpenContext returns a context whose Open creates its remote twin.
func (s *Stub) CreateOpenContext(p path.Path, mode vfs.OpenMode) (vfs.OpenContext, error) {
	base, err := vfs.NewBaseOpenContext(s, p, mode)
	if err != nil {
		return nil, err
	}
	return &StubOpenContext{BaseOpenContext: base, stub: s}, nil
}

// CreateExecuteContext returns a context whose Execute runs remotely with
// its stdio mirrored across the channel.
func (s *Stub) CreateExecuteContext(p path.Path, arg vfs.Arg) (vfs.ExecuteContext, error) {
	base, err := vfs.NewBaseExecuteContext(s, p, arg)
	if err != nil {
		return nil, err
	}
	base.DetachOutputs()
	return &StubExecuteContext{BaseExecuteContext: base, stub: s}, nil
}

// Close closes the stub and its channel.
func (s *Stub) Close() error {
	return s.BaseFileSystem.Close()
}

// notify sends req without waiting on its outcome. Used for close
// notifications fired from lifecycle listeners.
func (s *Stub) notify(req Request) {
	go func() {
		if _, err := call[any](context.Background(), s.ch, req); err != nil && !fserr.Is(err, fserr.KindNotFound) {
			s.logger.Debug("Close notification failed", zap.String("cmd", string(req.Cmd)), zap.Error(err))
		}
	}()
}

// closeRequest renders a terminal outcome for the peer.
func closeRequest(o ephemeral.Outcome) *CloseRequest {
	if o.Reason == ephemeral.ReasonError {
		return &CloseRequest{Error: fserr.ToWire(o.Err())}
	}
	return &CloseRequest{Value: o.Value}
}
