package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/channel"
	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// Skeleton serves a FileSystem to the peer of a Channel. Open and execute
// contexts created on behalf of the peer live in tables keyed by context id
// until they are closed or terminate.
type Skeleton struct {
	fs      vfs.FileSystem
	ch      *channel.Channel
	logger  *zap.Logger
	metrics *monitoring.Metrics

	exports *exports
	imports *imports

	mu     sync.Mutex
	opens  map[id.ContextID]vfs.OpenContext // Protected by mu
	execs  map[id.ContextID]*execEntry      // Protected by mu
	closed bool                             // Protected by mu
}

type execEntry struct {
	ec      vfs.ExecuteContext
	mirrors []*mirror
}

// Live counts the resources a Skeleton holds
type Live struct {
	OpenContexts    int `json:"open_contexts"`
	ExecuteContexts int `json:"execute_contexts"`
	Streams         int `json:"streams"`
	Mirrors         int `json:"mirrors"`
}

// Total sums every count
func (l Live) Total() int {
	return l.OpenContexts + l.ExecuteContexts + l.Streams + l.Mirrors
}

// NewSkeleton starts serving fs on ch. The skeleton closes with the channel.
func NewSkeleton(fs vfs.FileSystem, ch *channel.Channel, opts ...Option) *Skeleton {
	o := buildOptions(opts)
	logger := o.logger.With(zap.String("fs", fs.Name()))

	s := &Skeleton{
		fs:      fs,
		ch:      ch,
		logger:  logger,
		metrics: o.metrics,
		exports: newExports(ch, logger, o.metrics),
		imports: newImports(ch, logger, o.metrics),
		opens:   make(map[id.ContextID]vfs.OpenContext),
		execs:   make(map[id.ContextID]*execEntry),
	}

	ch.Handle(s.handle)
	ch.HandlePanics(panicResponse(ch))
	ch.HandleEvents(s.imports.onEvent)
	go func() {
		<-ch.Done()
		s.Close()
	}()
	return s
}

func (s *Skeleton) handle(ctx context.Context, payload []byte) []byte {
	codec := s.ch.Codec()

	var req Request
	if err := codec.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("Rejecting undecodable request", zap.Error(err))
		return respond(codec, nil, fserr.Invalid("request", err.Error()))
	}

	timer := monitoring.NewTimer(s.metrics, string(req.Cmd))
	result, err := s.dispatch(ctx, req)
	if err != nil {
		timer.Stop("error")
		s.logger.Debug("Request failed", zap.String("cmd", string(req.Cmd)), zap.Error(err))
	} else {
		timer.Stop("ok")
	}
	return respond(codec, result, err)
}

func (s *Skeleton) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Cmd {
	case CmdStat:
		p, err := parsePath(req.Path)
		if err != nil {
			return nil, err
		}
		return s.fs.Stat(ctx, p)

	case CmdList:
		p, err := parsePath(req.Path)
		if err != nil {
			return nil, err
		}
		return s.fs.List(ctx, p)

	case CmdMkdir:
		p, err := parsePath(req.Path)
		if err != nil {
			return nil, err
		}
		return nil, s.fs.Mkdir(ctx, p)

	case CmdUnlink:
		p, err := parsePath(req.Path)
		if err != nil {
			return nil, err
		}
		return nil, s.fs.Unlink(ctx, p)

	case CmdMove, CmdAlias:
		from, err := parsePath(req.Path)
		if err != nil {
			return nil, err
		}
		to, err := parsePath(req.To)
		if err != nil {
			return nil, err
		}
		if req.Cmd == CmdMove {
			return nil, s.fs.Move(ctx, from, to)
		}
		return nil, s.fs.Alias(ctx, from, to)

	case CmdOpenCreate:
		return s.openCreate(ctx, req)

	case CmdOpenSeek:
		oc, err := s.open(req.ContextID)
		if err != nil {
			return nil, err
		}
		if req.Seek == nil {
			return nil, fserr.Missing("seek")
		}
		pos, err := oc.Seek(ctx, req.Seek.Offset, req.Seek.Whence)
		if err != nil {
			return nil, err
		}
		return SeekResult{Position: pos}, nil

	case CmdOpenRead:
		oc, err := s.open(req.ContextID)
		if err != nil {
			return nil, err
		}
		if req.Read == nil {
			return nil, fserr.Missing("read")
		}
		return oc.Read(ctx, *req.Read)

	case CmdOpenWrite:
		oc, err := s.open(req.ContextID)
		if err != nil {
			return nil, err
		}
		if req.Write == nil {
			return nil, fserr.Missing("write")
		}
		return oc.Write(ctx, *req.Write)

	case CmdOpenClose:
		oc, err := s.open(req.ContextID)
		if err != nil {
			return nil, err
		}
		return nil, closeWith(oc, req.Close)

	case CmdExecCreate:
		return s.execCreate(req)

	case CmdExecExecute:
		e, err := s.exec(req.ContextID)
		if err != nil {
			return nil, err
		}
		value, err := e.ec.Execute(ctx)
		if err != nil {
			return nil, err
		}
		return ExecResult{Value: value}, nil

	case CmdExecClose:
		e, err := s.exec(req.ContextID)
		if err != nil {
			return nil, err
		}
		return nil, closeWith(e.ec, req.Close)

	case CmdStreamRead, CmdStreamPause, CmdStreamResume, CmdStreamClose:
		return s.exports.serve(req)

	default:
		return nil, fserr.NotImplemented(string(req.Cmd))
	}
}

func (s *Skeleton) openCreate(ctx context.Context, req Request) (any, error) {
	p, err := parsePath(req.Path)
	if err != nil {
		return nil, err
	}
	if req.Mode == nil {
		return nil, fserr.Missing("mode")
	}

	oc, err := s.fs.CreateOpenContext(p, *req.Mode)
	if err != nil {
		return nil, err
	}
	stat, err := oc.Open(ctx)
	if err != nil {
		return nil, err
	}

	cid := id.NewContextID()
	if err := s.track(func() { s.opens[cid] = oc }); err != nil {
		_ = oc.Close()
		return nil, err
	}
	s.metrics.AddResources("open_context", 1)
	oc.OnTerminate(func(ephemeral.Outcome) { s.evictOpen(cid) })

	// the filesystem may have closed between Open and the subscription
	if oc.State().Terminal() {
		s.evictOpen(cid)
		return nil, fserr.InvalidStateTransition(oc.State().String(), ephemeral.StateReady.String())
	}

	s.logger.Debug("Open context created", zap.String("context", string(cid)), zap.String("path", p.Spec()))
	return OpenResult{ContextID: cid, Stat: stat}, nil
}

func (s *Skeleton) execCreate(req Request) (any, error) {
	p, err := parsePath(req.Path)
	if err != nil {
		return nil, err
	}

	for _, sid := range req.Streams {
		if err := sid.Check(); err != nil {
			return nil, err
		}
	}

	ec, err := s.fs.CreateExecuteContext(p, req.Arg)
	if err != nil {
		return nil, err
	}
	ec.SetEnv(req.Env)

	entry := &execEntry{ec: ec}
	inputs := ec.Stdio().Inputs()
	for name, sid := range req.Streams {
		target, ok := inputs[name]
		if !ok {
			s.logger.Debug("Ignoring unknown input stream", zap.String("name", name))
			continue
		}
		entry.mirrors = append(entry.mirrors, s.imports.Import(sid, target))
	}

	streams := make(map[string]id.StreamID)
	for name, out := range ec.Stdio().Outputs() {
		streams[name] = s.exports.Export(out)
	}

	cid := id.NewContextID()
	if err := s.track(func() { s.execs[cid] = entry }); err != nil {
		_ = ec.Close()
		return nil, err
	}
	s.metrics.AddResources("execute_context", 1)
	ec.OnTerminate(func(ephemeral.Outcome) { s.evictExec(cid) })
	if ec.State().Terminal() {
		s.evictExec(cid)
	}

	s.logger.Debug("Execute context created", zap.String("context", string(cid)), zap.String("path", p.Spec()))
	return ExecCreateResult{ContextID: cid, Streams: streams}, nil
}

// track runs add under the table lock unless the skeleton is closed.
func (s *Skeleton) track(add func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fserr.Runtime("skeleton closed")
	}
	add()
	return nil
}

func (s *Skeleton) open(cid id.ContextID) (vfs.OpenContext, error) {
	if err := cid.Check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	oc, ok := s.opens[cid]
	if !ok {
		return nil, fserr.NotFound("open-context", string(cid))
	}
	return oc, nil
}

func (s *Skeleton) exec(cid id.ContextID) (*execEntry, error) {
	if err := cid.Check(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[cid]
	if !ok {
		return nil, fserr.NotFound("execute-context", string(cid))
	}
	return e, nil
}

func (s *Skeleton) evictOpen(cid id.ContextID) {
	s.mu.Lock()
	_, ok := s.opens[cid]
	delete(s.opens, cid)
	s.mu.Unlock()

	if ok {
		s.metrics.AddResources("open_context", -1)
	}
}

// evictExec drops the context and closes the mirrors feeding its inputs,
// which releases the peer's exported streams.
func (s *Skeleton) evictExec(cid id.ContextID) {
	s.mu.Lock()
	e, ok := s.execs[cid]
	delete(s.execs, cid)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.metrics.AddResources("execute_context", -1)
	for _, m := range e.mirrors {
		m.target.Close(nil)
	}
}

// Live returns the number of contexts and streams currently held.
func (s *Skeleton) Live() Live {
	s.mu.Lock()
	opens, execs := len(s.opens), len(s.execs)
	s.mu.Unlock()

	return Live{
		OpenContexts:    opens,
		ExecuteContexts: execs,
		Streams:         s.exports.Len(),
		Mirrors:         s.imports.Len(),
	}
}

// Close closes every context held for the peer. The channel is left to
// its owner.
func (s *Skeleton) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	opens := make([]vfs.OpenContext, 0, len(s.opens))
	for _, oc := range s.opens {
		opens = append(opens, oc)
	}
	execs := make([]vfs.ExecuteContext, 0, len(s.execs))
	for _, e := range s.execs {
		execs = append(execs, e.ec)
	}
	s.mu.Unlock()

	reason := fserr.Runtime("channel closed")
	for _, oc := range opens {
		_ = oc.CloseError(reason)
	}
	for _, ec := range execs {
		_ = ec.CloseError(reason)
	}
	s.exports.release(true)
	s.imports.closeAll(reason)

	s.logger.Debug("Skeleton closed", zap.Int("open_contexts", len(opens)), zap.Int("execute_contexts", len(execs)))
}

func parsePath(spec string) (path.Path, error) {
	if spec == "" {
		return path.Path{}, fserr.Missing("path")
	}
	p := path.Parse(spec)
	if !p.IsValid() {
		return path.Path{}, fserr.Invalid("path", spec)
	}
	return p, nil
}

// closeWith closes h with the reason the peer sent, or as Close would.
func closeWith(h interface {
	ephemeral.Handle
	Close() error
}, req *CloseRequest) error {
	switch {
	case req == nil:
		return h.Close()
	case req.Error != nil:
		return h.CloseError(fserr.FromWire(req.Error))
	default:
		return h.CloseOk(req.Value)
	}
}
