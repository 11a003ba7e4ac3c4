package vfs

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/stream"
)

// FileSystem is a mounted tree of nodes
type FileSystem interface {
	ephemeral.Handle

	Name() string
	RootPath() path.Path

	Stat(ctx context.Context, p path.Path) (*StatResult, error)
	List(ctx context.Context, p path.Path) (map[string]*StatResult, error)
	Mkdir(ctx context.Context, p path.Path) error
	Unlink(ctx context.Context, p path.Path) error
	Move(ctx context.Context, from, to path.Path) error
	Alias(ctx context.Context, from, to path.Path) error

	CreateOpenContext(p path.Path, mode OpenMode) (OpenContext, error)
	CreateExecuteContext(p path.Path, arg Arg) (ExecuteContext, error)

	Close() error
}

// OpenContext is a handle to one opened file. Open moves it to Ready; Seek,
// Read and Write are only valid while Ready.
type OpenContext interface {
	ephemeral.Handle

	FileSystem() FileSystem
	Path() path.Path
	Mode() OpenMode

	Open(ctx context.Context) (*StatResult, error)
	Seek(ctx context.Context, offset int64, whence Whence) (int64, error)
	Read(ctx context.Context, req ReadRequest) (*ReadResult, error)
	Write(ctx context.Context, req WriteRequest) (*WriteResult, error)

	Close() error
}

// ExecuteContext is one invocation of an executable. Execute may be called
// once; its result is the executable's completion value.
type ExecuteContext interface {
	ephemeral.Handle

	FileSystem() FileSystem
	Path() path.Path
	Arg() Arg
	Stdio() *stream.Stdio
	Env() map[string]string
	SetEnv(env map[string]string)

	Execute(ctx context.Context) (any, error)

	Close() error
}

// closeHandle closes h whatever its state. Terminal handles are left alone.
func closeHandle(h ephemeral.Handle) error {
	switch h.State() {
	case ephemeral.StateReady:
		return h.CloseOk(nil)
	case ephemeral.StateWait:
		return h.CloseError(fserr.Runtime("closed before ready"))
	}
	return nil
}

// CheckPath rejects invalid paths and paths on another root.
func CheckPath(fs FileSystem, p path.Path) error {
	if !p.IsValid() {
		return fserr.Invalid("path", p.Spec())
	}
	if p.Root() != fs.RootPath().Root() {
		return fserr.Incompatible("root", p.Root(), fs.RootPath().Root())
	}
	return nil
}

// BaseFileSystem carries the identity and lifecycle of a FileSystem.
type BaseFileSystem struct {
	*ephemeral.Ephemeral[struct{}]
	name string
	root path.Path
}

// NewBaseFileSystem creates a Ready base for the mount name.
func NewBaseFileSystem(name string) (*BaseFileSystem, error) {
	root := path.Parse(name + ":/")
	if !root.IsValid() {
		return nil, fserr.Invalid("mount", name)
	}

	b := &BaseFileSystem{
		Ephemeral: ephemeral.New[struct{}](),
		name:      name,
		root:      root,
	}
	if err := b.Ready(struct{}{}); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BaseFileSystem) Name() string        { return b.name }
func (b *BaseFileSystem) RootPath() path.Path { return b.root }

// CheckReady fails unless the filesystem is mounted and open.
func (b *BaseFileSystem) CheckReady() error {
	if s := b.State(); s != ephemeral.StateReady {
		return fserr.InvalidStateTransition(s.String(), ephemeral.StateReady.String())
	}
	return nil
}

// Close unmounts the filesystem with reason ok.
func (b *BaseFileSystem) Close() error {
	return closeHandle(b)
}

// BaseOpenContext carries the state shared by OpenContext implementations.
// The ready value is the stat of the opened file.
type BaseOpenContext struct {
	*ephemeral.Ephemeral[*StatResult]
	fs   FileSystem
	path path.Path
	mode OpenMode
}

// NewBaseOpenContext validates p and mode and ties the context to fs.
func NewBaseOpenContext(fs FileSystem, p path.Path, mode OpenMode) (*BaseOpenContext, error) {
	if err := CheckPath(fs, p); err != nil {
		return nil, err
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if s := fs.State(); s != ephemeral.StateReady {
		return nil, fserr.InvalidStateTransition(s.String(), ephemeral.StateReady.String())
	}

	oc := &BaseOpenContext{
		Ephemeral: ephemeral.New[*StatResult](),
		fs:        fs,
		path:      p,
		mode:      mode,
	}
	oc.DependsOn(fs)
	return oc, nil
}

func (c *BaseOpenContext) FileSystem() FileSystem { return c.fs }
func (c *BaseOpenContext) Path() path.Path        { return c.path }
func (c *BaseOpenContext) Mode() OpenMode         { return c.mode }

// CheckReady fails unless Open has completed and the context is not closed.
func (c *BaseOpenContext) CheckReady() error {
	if s := c.State(); s != ephemeral.StateReady {
		return fserr.InvalidStateTransition(s.String(), ephemeral.StateReady.String())
	}
	return nil
}

// CheckRead fails unless the context is ready and opened for reading.
func (c *BaseOpenContext) CheckRead() error {
	if err := c.CheckReady(); err != nil {
		return err
	}
	if !c.mode.Read {
		return fserr.Incompatible("open-mode", c.mode.String(), "read")
	}
	return nil
}

// CheckWrite fails unless the context is ready and opened for writing.
func (c *BaseOpenContext) CheckWrite() error {
	if err := c.CheckReady(); err != nil {
		return err
	}
	if !c.mode.Write {
		return fserr.Incompatible("open-mode", c.mode.String(), "write")
	}
	return nil
}

func (c *BaseOpenContext) Close() error {
	return closeHandle(c)
}

// BaseExecuteContext carries the state shared by ExecuteContext
// implementations. It is Ready while the executable runs.
type BaseExecuteContext struct {
	*ephemeral.Ephemeral[struct{}]
	fs    FileSystem
	path  path.Path
	arg   Arg
	stdio *stream.Stdio

	mu       sync.RWMutex
	env      map[string]string
	detached bool
}

// NewBaseExecuteContext ties a new context to fs. Output streams are ended
// when the context terminates unless DetachOutputs was called.
func NewBaseExecuteContext(fs FileSystem, p path.Path, arg Arg) (*BaseExecuteContext, error) {
	if err := CheckPath(fs, p); err != nil {
		return nil, err
	}
	if s := fs.State(); s != ephemeral.StateReady {
		return nil, fserr.InvalidStateTransition(s.String(), ephemeral.StateReady.String())
	}
	if arg == nil {
		arg = Arg{}
	}

	ec := &BaseExecuteContext{
		Ephemeral: ephemeral.New[struct{}](),
		fs:        fs,
		path:      p,
		arg:       arg,
		stdio:     stream.NewStdio(),
		env:       map[string]string{},
	}
	ec.OnTerminate(func(ephemeral.Outcome) {
		ec.mu.RLock()
		detached := ec.detached
		ec.mu.RUnlock()
		if !detached {
			ec.stdio.EndOutputs()
		}
	})
	ec.DependsOn(fs)
	return ec, nil
}

func (c *BaseExecuteContext) FileSystem() FileSystem { return c.fs }
func (c *BaseExecuteContext) Path() path.Path        { return c.path }
func (c *BaseExecuteContext) Arg() Arg               { return c.arg }
func (c *BaseExecuteContext) Stdio() *stream.Stdio   { return c.stdio }

// Env returns a copy of the environment.
func (c *BaseExecuteContext) Env() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.env))
	for k, v := range c.env {
		out[k] = v
	}
	return out
}

// SetEnv merges env into the environment.
func (c *BaseExecuteContext) SetEnv(env map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range env {
		c.env[k] = v
	}
}

// DetachOutputs leaves the output streams open on termination, for
// contexts whose outputs are ended by someone else.
func (c *BaseExecuteContext) DetachOutputs() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Begin marks the start of Execute. A second call fails with an invalid
// state transition.
func (c *BaseExecuteContext) Begin() error {
	return c.Ready(struct{}{})
}

// Finish closes the context with the executable's result.
func (c *BaseExecuteContext) Finish(result any, err error) (any, error) {
	if err != nil {
		_ = c.CloseError(err)
		return nil, err
	}
	_ = c.CloseOk(result)
	return result, nil
}

func (c *BaseExecuteContext) Close() error {
	return closeHandle(c)
}
