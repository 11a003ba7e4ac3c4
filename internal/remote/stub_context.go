package remote

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/shared/id"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// StubOpenContext proxies an open file held by the peer
type StubOpenContext struct {
	*vfs.BaseOpenContext
	stub *Stub

	mu  sync.Mutex
	cid id.ContextID
}

var _ vfs.OpenContext = (*StubOpenContext)(nil)

// Open creates the remote context and readies this one with its stat.
func (c *StubOpenContext) Open(ctx context.Context) (*vfs.StatResult, error) {
	mode := c.Mode()
	res, err := call[OpenResult](ctx, c.stub.ch, Request{Cmd: CmdOpenCreate, Path: c.Path().Spec(), Mode: &mode})
	if err != nil {
		_ = c.CloseError(err)
		return nil, err
	}

	c.mu.Lock()
	c.cid = res.ContextID
	c.mu.Unlock()

	c.OnTerminate(func(o ephemeral.Outcome) {
		c.stub.notify(Request{Cmd: CmdOpenClose, ContextID: res.ContextID, Close: closeRequest(o)})
	})
	if err := c.Ready(res.Stat); err != nil {
		// closed locally while the request was in flight
		c.stub.notify(Request{Cmd: CmdOpenClose, ContextID: res.ContextID})
		return nil, err
	}
	return res.Stat, nil
}

func (c *StubOpenContext) contextID() id.ContextID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cid
}

func (c *StubOpenContext) Seek(ctx context.Context, offset int64, whence vfs.Whence) (int64, error) {
	if err := c.CheckReady(); err != nil {
		return 0, err
	}
	res, err := call[SeekResult](ctx, c.stub.ch, Request{
		Cmd:       CmdOpenSeek,
		ContextID: c.contextID(),
		Seek:      &SeekRequest{Offset: offset, Whence: whence},
	})
	if err != nil {
		return 0, err
	}
	return res.Position, nil
}

func (c *StubOpenContext) Read(ctx context.Context, req vfs.ReadRequest) (*vfs.ReadResult, error) {
	if err := c.CheckRead(); err != nil {
		return nil, err
	}
	res, err := call[*vfs.ReadResult](ctx, c.stub.ch, Request{Cmd: CmdOpenRead, ContextID: c.contextID(), Read: &req})
	if err != nil {
		return nil, err
	}

	// text codecs deliver binary data as base64
	data, err := vfs.NormalizeData(res.Data, res.DataType)
	if err != nil {
		return nil, err
	}
	res.Data = data
	return res, nil
}

func (c *StubOpenContext) Write(ctx context.Context, req vfs.WriteRequest) (*vfs.WriteResult, error) {
	if err := c.CheckWrite(); err != nil {
		return nil, err
	}
	return call[*vfs.WriteResult](ctx, c.stub.ch, Request{Cmd: CmdOpenWrite, ContextID: c.contextID(), Write: &req})
}

// StubExecuteContext runs an executable on the peer. Its inputs are
// exported to the peer and the peer's outputs are mirrored into its own.
type StubExecuteContext struct {
	*vfs.BaseExecuteContext
	stub *Stub
}

var _ vfs.ExecuteContext = (*StubExecuteContext)(nil)

// Execute creates the remote context, wires the streams and waits for the
// result. Only ctx bounds the wait.
func (c *StubExecuteContext) Execute(ctx context.Context) (any, error) {
	if err := c.Begin(); err != nil {
		return nil, err
	}

	stdio := c.Stdio()
	inputs := make(map[string]id.StreamID)
	for name, in := range stdio.Inputs() {
		inputs[name] = c.stub.exports.Export(in)
	}

	created, err := call[ExecCreateResult](ctx, c.stub.ch, Request{
		Cmd:     CmdExecCreate,
		Path:    c.Path().Spec(),
		Arg:     c.Arg(),
		Env:     c.Env(),
		Streams: inputs,
	})
	if err != nil {
		for _, sid := range inputs {
			c.stub.exports.evict(sid)
		}
		stdio.EndOutputs()
		return c.Finish(nil, err)
	}

	cid := created.ContextID
	c.OnTerminate(func(o ephemeral.Outcome) {
		c.stub.notify(Request{Cmd: CmdExecClose, ContextID: cid, Close: closeRequest(o)})
	})

	outputs := stdio.Outputs()
	for name, sid := range created.Streams {
		target, ok := outputs[name]
		if !ok {
			c.stub.logger.Debug("Ignoring unknown output stream", zap.String("name", name))
			continue
		}
		c.stub.imports.Import(sid, target)
	}

	res, err := callTimeout[ExecResult](ctx, c.stub.ch, Request{Cmd: CmdExecExecute, ContextID: cid}, 0)
	return c.Finish(res.Value, err)
}
