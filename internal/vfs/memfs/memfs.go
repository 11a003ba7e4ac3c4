package memfs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/script"
)

// FileSystem is an in-memory tree
type FileSystem struct {
	*vfs.BaseFileSystem

	mu     sync.RWMutex
	root   *node // Protected by mu
	now         func() time.Time
	script      script.Config
	maxFileSize int64
	logger      *zap.Logger
}

// DefaultMaxFileSize bounds how large a write may grow a file.
const DefaultMaxFileSize = 256 << 20

var _ vfs.FileSystem = (*FileSystem)(nil)

// Option configures a FileSystem
type Option func(*FileSystem)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(fs *FileSystem) { fs.logger = logger }
}

// WithClock replaces time.Now for mtimes
func WithClock(now func() time.Time) Option {
	return func(fs *FileSystem) { fs.now = now }
}

// WithScriptConfig sets the limits for script executables
func WithScriptConfig(config script.Config) Option {
	return func(fs *FileSystem) { fs.script = config }
}

// WithMaxFileSize bounds how large a write may grow a file
func WithMaxFileSize(n int64) Option {
	return func(fs *FileSystem) { fs.maxFileSize = n }
}

// New creates an empty, mounted filesystem named name
func New(name string, opts ...Option) (*FileSystem, error) {
	base, err := vfs.NewBaseFileSystem(name)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		BaseFileSystem: base,
		now:            time.Now,
		script:         script.DefaultConfig(),
		maxFileSize:    DefaultMaxFileSize,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.root = newDir(fs.now())
	return fs, nil
}

// lookup resolves p. Must hold fs.mu.
func (fs *FileSystem) lookup(p path.Path) (*node, error) {
	if err := vfs.CheckPath(fs, p); err != nil {
		return nil, err
	}

	n := fs.root
	for _, name := range p.Elements() {
		if n.kind != kindDir {
			return nil, fserr.NotFound("path", p.Spec())
		}
		child, ok := n.children[name]
		if !ok {
			return nil, fserr.NotFound("path", p.Spec())
		}
		n = child
	}
	return n, nil
}

// lookupParent resolves the directory that holds p. Must hold fs.mu.
func (fs *FileSystem) lookupParent(p path.Path) (*node, error) {
	if err := vfs.CheckPath(fs, p); err != nil {
		return nil, err
	}
	parentPath, ok := p.Parent()
	if !ok {
		return nil, fserr.Invalid("path", p.Spec())
	}

	parent, err := fs.lookup(parentPath)
	if err != nil {
		return nil, err
	}
	if parent.kind != kindDir {
		return nil, fserr.TypeMismatch(kindDir.String(), parent.kind.String())
	}
	return parent, nil
}

// Stat describes the node at p
func (fs *FileSystem) Stat(ctx context.Context, p path.Path) (*vfs.StatResult, error) {
	if err := fs.CheckReady(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	return n.stat(), nil
}

// List describes the children of the directory at p
func (fs *FileSystem) List(ctx context.Context, p path.Path) (map[string]*vfs.StatResult, error) {
	if err := fs.CheckReady(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.kind != kindDir {
		return nil, fserr.TypeMismatch(kindDir.String(), n.kind.String())
	}

	out := make(map[string]*vfs.StatResult, len(n.children))
	for name, child := range n.children {
		out[name] = child.stat()
	}
	return out, nil
}

// Mkdir creates a directory. The parent must exist.
func (fs *FileSystem) Mkdir(ctx context.Context, p path.Path) error {
	return fs.insert(p, func(now time.Time) *node { return newDir(now) })
}

// Unlink removes the name p. Directories must be empty.
func (fs *FileSystem) Unlink(ctx context.Context, p path.Path) error {
	if err := fs.CheckReady(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	name := p.BaseName()
	n, ok := parent.children[name]
	if !ok {
		return fserr.NotFound("path", p.Spec())
	}
	if n.kind == kindDir && len(n.children) > 0 {
		return fserr.Invalid("non-empty-directory", p.Spec())
	}

	delete(parent.children, name)
	parent.mtime = fs.now()
	return nil
}

// Move renames from to to. The destination must not exist.
func (fs *FileSystem) Move(ctx context.Context, from, to path.Path) error {
	return fs.link(from, to, true)
}

// Alias makes to a second name for the node at from.
func (fs *FileSystem) Alias(ctx context.Context, from, to path.Path) error {
	return fs.link(from, to, false)
}

func (fs *FileSystem) link(from, to path.Path, move bool) error {
	if err := fs.CheckReady(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	srcParent, err := fs.lookupParent(from)
	if err != nil {
		return err
	}
	n, ok := srcParent.children[from.BaseName()]
	if !ok {
		return fserr.NotFound("path", from.Spec())
	}
	if n.kind == kindDir && to.HasPrefix(from) {
		return fserr.Invalid("destination", to.Spec())
	}

	dstParent, err := fs.lookupParent(to)
	if err != nil {
		return err
	}
	if _, exists := dstParent.children[to.BaseName()]; exists {
		return fserr.Duplicate("path", to.Spec())
	}

	now := fs.now()
	dstParent.children[to.BaseName()] = n
	dstParent.mtime = now
	if move {
		delete(srcParent.children, from.BaseName())
		srcParent.mtime = now
	}
	return nil
}

// insert adds a fresh node at p. Must not hold fs.mu.
func (fs *FileSystem) insert(p path.Path, build func(time.Time) *node) error {
	if err := fs.CheckReady(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := vfs.CheckPath(fs, p); err != nil {
		return err
	}
	if p.IsRoot() {
		return fserr.Duplicate("path", p.Spec())
	}
	parent, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if _, exists := parent.children[p.BaseName()]; exists {
		return fserr.Duplicate("path", p.Spec())
	}

	now := fs.now()
	parent.children[p.BaseName()] = build(now)
	parent.mtime = now
	return nil
}

// WriteFile creates or replaces the contents of the file at p.
func (fs *FileSystem) WriteFile(p path.Path, data []byte) error {
	if err := fs.CheckReady(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	now := fs.now()
	buf := append([]byte(nil), data...)

	if n, ok := parent.children[p.BaseName()]; ok {
		if n.kind != kindFile {
			return fserr.TypeMismatch(kindFile.String(), n.kind.String())
		}
		n.data = buf
		n.mtime = now
		return nil
	}
	parent.children[p.BaseName()] = newFile(now, buf)
	parent.mtime = now
	return nil
}

// ReadFile returns a copy of the contents of the file at p.
func (fs *FileSystem) ReadFile(p path.Path) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.kind != kindFile {
		return nil, fserr.TypeMismatch(kindFile.String(), n.kind.String())
	}
	return append([]byte(nil), n.data...), nil
}

// AddExecutable installs a native executable at p.
func (fs *FileSystem) AddExecutable(p path.Path, exe *vfs.Executable) error {
	if exe == nil || exe.Run == nil {
		return fserr.Missing("executable")
	}
	return fs.insert(p, func(now time.Time) *node {
		return &node{kind: kindExec, mtime: now, exec: exe}
	})
}

// AddScript installs a JavaScript executable at p. The source is checked
// now and compiled again for every execution, so edits to the file apply
// to later runs.
func (fs *FileSystem) AddScript(p path.Path, src []byte, sig vfs.Signature) error {
	if _, err := script.Compile(p.Spec(), src, sig, fs.script); err != nil {
		return err
	}
	return fs.insert(p, func(now time.Time) *node {
		n := newFile(now, append([]byte(nil), src...))
		n.script = &sig
		return n
	})
}

// MkdirAll creates p and any missing parents.
func (fs *FileSystem) MkdirAll(ctx context.Context, p path.Path) error {
	if !p.IsValid() {
		return fserr.Invalid("path", p.Spec())
	}
	cur := fs.RootPath()
	for _, name := range p.Elements() {
		cur = cur.Combine(name)
		err := fs.Mkdir(ctx, cur)
		if err == nil || fserr.Is(err, fserr.KindDuplicate) {
			continue
		}
		return err
	}

	st, err := fs.Stat(ctx, p)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fserr.TypeMismatch(kindDir.String(), kindFile.String())
	}
	return nil
}

// Walk calls fn for every node below p in lexical order.
func (fs *FileSystem) Walk(p path.Path, fn func(path.Path, *vfs.StatResult)) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.lookup(p)
	if err != nil {
		return err
	}
	walk(p, n, fn, map[*node]bool{})
	return nil
}

func walk(p path.Path, n *node, fn func(path.Path, *vfs.StatResult), seen map[*node]bool) {
	if n.kind != kindDir || seen[n] {
		return
	}
	seen[n] = true

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.children[name]
		childPath := p.Combine(name)
		fn(childPath, child.stat())
		walk(childPath, child, fn, seen)
	}
}
