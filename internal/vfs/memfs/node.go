package memfs

import (
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/axiom/internal/vfs"
)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindExec
)

func (k nodeKind) String() string {
	switch k {
	case kindDir:
		return "directory"
	case kindFile:
		return "file"
	case kindExec:
		return "executable"
	default:
		return "unknown"
	}
}

// node is guarded by the owning FileSystem's mutex.
type node struct {
	kind     nodeKind
	mtime    time.Time
	data     []byte
	children map[string]*node

	// native executable, kindExec only
	exec *vfs.Executable
	// script signature; a file with one is a script whose body is the source
	script *vfs.Signature
}

func newDir(now time.Time) *node {
	return &node{kind: kindDir, mtime: now, children: make(map[string]*node)}
}

func newFile(now time.Time, data []byte) *node {
	return &node{kind: kindFile, mtime: now, data: data}
}

func (n *node) stat() *vfs.StatResult {
	st := &vfs.StatResult{Mtime: n.mtime.UnixMilli()}

	switch n.kind {
	case kindDir:
		st.Mode = vfs.ModeD | vfs.ModeR | vfs.ModeW
	case kindExec:
		st.Mode = vfs.ModeX
	case kindFile:
		size := int64(len(n.data))
		st.Size = &size
		st.Mode = vfs.ModeR | vfs.ModeW | vfs.ModeK
		if n.script != nil {
			st.Mode |= vfs.ModeX
		}
		if size > 0 {
			st.MimeType = mimetype.Detect(n.data).String()
		}
	}
	return st
}
