package memfs

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/script"
)

type openContext struct {
	*vfs.BaseOpenContext
	fs *FileSystem

	mu   sync.Mutex
	node *node
	pos  int64
}

// CreateOpenContext returns an unopened handle for p
func (fs *FileSystem) CreateOpenContext(p path.Path, mode vfs.OpenMode) (vfs.OpenContext, error) {
	base, err := vfs.NewBaseOpenContext(fs, p, mode)
	if err != nil {
		return nil, err
	}
	return &openContext{BaseOpenContext: base, fs: fs}, nil
}

// Open resolves the file, creating or truncating it as the mode says.
func (c *openContext) Open(ctx context.Context) (*vfs.StatResult, error) {
	n, err := c.resolve()
	if err != nil {
		_ = c.CloseError(err)
		return nil, err
	}

	c.fs.mu.RLock()
	st := n.stat()
	c.fs.mu.RUnlock()

	c.mu.Lock()
	c.node = n
	if c.Mode().Append {
		c.pos = int64(len(n.data))
	}
	c.mu.Unlock()

	if err := c.Ready(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *openContext) resolve() (*node, error) {
	if err := c.fs.CheckReady(); err != nil {
		return nil, err
	}
	fs, p, mode := c.fs, c.Path(), c.Mode()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupParent(p)
	if err != nil {
		return nil, err
	}

	n, exists := parent.children[p.BaseName()]
	switch {
	case exists && mode.Exclusive:
		return nil, fserr.Duplicate("path", p.Spec())
	case !exists && !mode.Create:
		return nil, fserr.NotFound("path", p.Spec())
	case !exists:
		n = newFile(fs.now(), nil)
		parent.children[p.BaseName()] = n
		parent.mtime = n.mtime
	}

	if n.kind != kindFile {
		return nil, fserr.TypeMismatch(kindFile.String(), n.kind.String())
	}
	if mode.Truncate && len(n.data) > 0 {
		n.data = nil
		n.mtime = fs.now()
	}
	return n, nil
}

// Seek moves the position used by reads and writes with WhenceCurrent.
func (c *openContext) Seek(ctx context.Context, offset int64, whence vfs.Whence) (int64, error) {
	if err := c.CheckReady(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fs.mu.RLock()
	size := int64(len(c.node.data))
	c.fs.mu.RUnlock()

	pos, err := whence.Resolve(offset, c.pos, size)
	if err != nil {
		return 0, err
	}
	c.pos = pos
	return pos, nil
}

func (c *openContext) Read(ctx context.Context, req vfs.ReadRequest) (*vfs.ReadResult, error) {
	if err := c.CheckRead(); err != nil {
		return nil, err
	}
	dataType := req.DataType
	if dataType == "" {
		dataType = vfs.DataUTF8
	}
	if !dataType.Valid() {
		return nil, fserr.Invalid("data-type", string(dataType))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fs.mu.RLock()
	size := int64(len(c.node.data))
	start, err := req.Whence.Resolve(req.Offset, c.pos, size)
	if err != nil {
		c.fs.mu.RUnlock()
		return nil, err
	}
	start = min(start, size)
	end := req.End(start, size)
	raw := append([]byte(nil), c.node.data[start:end]...)
	c.fs.mu.RUnlock()

	data, err := vfs.EncodeData(raw, dataType)
	if err != nil {
		return nil, err
	}
	c.pos = end
	return &vfs.ReadResult{Offset: start, Whence: vfs.WhenceBegin, DataType: dataType, Data: data}, nil
}

func (c *openContext) Write(ctx context.Context, req vfs.WriteRequest) (*vfs.WriteResult, error) {
	if err := c.CheckWrite(); err != nil {
		return nil, err
	}
	dataType := req.DataType
	if dataType == "" {
		dataType = vfs.DataUTF8
	}
	raw, err := vfs.DecodeData(req.Data, dataType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()

	n := c.node
	size := int64(len(n.data))
	start := size
	if !c.Mode().Append {
		if start, err = req.Whence.Resolve(req.Offset, c.pos, size); err != nil {
			return nil, err
		}
	}

	if start > c.fs.maxFileSize || int64(len(raw)) > c.fs.maxFileSize-start {
		return nil, fserr.Invalid("offset", start)
	}
	end := start + int64(len(raw))
	if end > size {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[start:end], raw)
	n.mtime = c.fs.now()
	c.pos = end

	return &vfs.WriteResult{Offset: start, Whence: vfs.WhenceBegin, DataType: dataType}, nil
}

type executeContext struct {
	*vfs.BaseExecuteContext
	fs  *FileSystem
	exe *vfs.Executable
}

// CreateExecuteContext validates arg against the executable at p.
func (fs *FileSystem) CreateExecuteContext(p path.Path, arg vfs.Arg) (vfs.ExecuteContext, error) {
	if err := fs.CheckReady(); err != nil {
		return nil, err
	}
	exe, err := fs.executable(p)
	if err != nil {
		return nil, err
	}
	validated, err := exe.Signature.Validate(arg)
	if err != nil {
		return nil, err
	}

	base, err := vfs.NewBaseExecuteContext(fs, p, validated)
	if err != nil {
		return nil, err
	}
	return &executeContext{BaseExecuteContext: base, fs: fs, exe: exe}, nil
}

func (fs *FileSystem) executable(p path.Path) (*vfs.Executable, error) {
	fs.mu.RLock()
	n, err := fs.lookup(p)
	if err != nil {
		fs.mu.RUnlock()
		return nil, err
	}
	exec, sig, src := n.exec, n.script, append([]byte(nil), n.data...)
	fs.mu.RUnlock()

	switch {
	case exec != nil:
		return exec, nil
	case sig != nil:
		return script.Compile(p.Spec(), src, *sig, fs.script)
	}
	return nil, fserr.TypeMismatch(kindExec.String(), n.kind.String())
}

// Execute runs the executable once and closes the context with its result.
func (c *executeContext) Execute(ctx context.Context) (any, error) {
	if err := c.Begin(); err != nil {
		return nil, err
	}
	c.fs.logger.Debug("Executing",
		zap.String("path", c.Path().Spec()),
		zap.Int("args", len(c.Arg())))

	result, err := c.exe.Run(ctx, c)
	if err != nil {
		c.fs.logger.Debug("Execution failed", zap.String("path", c.Path().Spec()), zap.Error(err))
	}
	return c.Finish(result, err)
}
