package vfs

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

// Mode is the stat bitmask of a node
type Mode uint32

const (
	ModeX Mode = 0x1  // executable
	ModeW Mode = 0x2  // writable
	ModeR Mode = 0x4  // readable
	ModeD Mode = 0x8  // directory
	ModeK Mode = 0x10 // seekable
)

// Has reports whether every bit of flag is set
func (m Mode) Has(flag Mode) bool {
	return m&flag == flag
}

// String renders the mode as "drwxk" with '-' for unset bits
func (m Mode) String() string {
	flags := []struct {
		bit  Mode
		char byte
	}{{ModeD, 'd'}, {ModeR, 'r'}, {ModeW, 'w'}, {ModeX, 'x'}, {ModeK, 'k'}}

	out := make([]byte, len(flags))
	for i, f := range flags {
		out[i] = '-'
		if m.Has(f.bit) {
			out[i] = f.char
		}
	}
	return string(out)
}

// StatResult describes one node. Mtime is in milliseconds since the epoch.
type StatResult struct {
	Mode     Mode   `json:"mode"`
	Mtime    int64  `json:"mtime"`
	Size     *int64 `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ModTime returns Mtime as a time.Time
func (s *StatResult) ModTime() time.Time {
	return time.UnixMilli(s.Mtime)
}

// IsDir reports whether the node is a directory
func (s *StatResult) IsDir() bool {
	return s.Mode.Has(ModeD)
}

// OpenMode holds the flags an OpenContext was created with
type OpenMode struct {
	Read      bool `json:"read,omitempty"`
	Write     bool `json:"write,omitempty"`
	Create    bool `json:"create,omitempty"`
	Truncate  bool `json:"truncate,omitempty"`
	Exclusive bool `json:"exclusive,omitempty"`
	Append    bool `json:"append,omitempty"`
}

// ParseOpenMode parses an fopen-style mode: r, r+, w, w+, a, a+, each
// optionally followed by x for exclusive creation.
func ParseOpenMode(s string) (OpenMode, error) {
	var m OpenMode
	base, exclusive := strings.CutSuffix(s, "x")

	switch base {
	case "r":
		m = OpenMode{Read: true}
	case "r+":
		m = OpenMode{Read: true, Write: true}
	case "w":
		m = OpenMode{Write: true, Create: true, Truncate: true}
	case "w+":
		m = OpenMode{Read: true, Write: true, Create: true, Truncate: true}
	case "a":
		m = OpenMode{Write: true, Create: true, Append: true}
	case "a+":
		m = OpenMode{Read: true, Write: true, Create: true, Append: true}
	default:
		return OpenMode{}, fserr.Invalid("open-mode", s)
	}

	if exclusive {
		if !m.Create {
			return OpenMode{}, fserr.Invalid("open-mode", s)
		}
		m.Exclusive = true
	}
	return m, nil
}

// MustOpenMode is ParseOpenMode for constant modes
func MustOpenMode(s string) OpenMode {
	m, err := ParseOpenMode(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate rejects flag combinations that cannot be honored
func (m OpenMode) Validate() error {
	if !m.Read && !m.Write {
		return fserr.Invalid("open-mode", m.String())
	}
	if (m.Truncate || m.Append) && !m.Write {
		return fserr.Incompatible("open-mode", m.String(), "write")
	}
	if m.Exclusive && !m.Create {
		return fserr.Incompatible("open-mode", m.String(), "create")
	}
	return nil
}

// String renders the flags as letters: r w c t x a
func (m OpenMode) String() string {
	var b strings.Builder
	for _, f := range []struct {
		set  bool
		char byte
	}{{m.Read, 'r'}, {m.Write, 'w'}, {m.Create, 'c'}, {m.Truncate, 't'}, {m.Exclusive, 'x'}, {m.Append, 'a'}} {
		if f.set {
			b.WriteByte(f.char)
		}
	}
	return b.String()
}

// Whence anchors an offset
type Whence string

const (
	WhenceBegin   Whence = "begin"
	WhenceCurrent Whence = "current"
	WhenceEnd     Whence = "end"
)

// Resolve turns offset relative to whence into an absolute position.
func (w Whence) Resolve(offset, current, size int64) (int64, error) {
	var base int64
	switch w {
	case WhenceBegin, "":
	case WhenceCurrent:
		base = current
	case WhenceEnd:
		base = size
	default:
		return 0, fserr.Invalid("whence", string(w))
	}
	if offset > 0 && base > math.MaxInt64-offset {
		return 0, fserr.Invalid("offset", offset)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fserr.Invalid("offset", pos)
	}
	return pos, nil
}

// DataType selects how file bytes are represented in reads and writes
type DataType string

const (
	DataArrayBuffer DataType = "arraybuffer"
	DataBase64      DataType = "base64-string"
	DataBlob        DataType = "blob"
	DataUTF8        DataType = "utf8-string"
	DataValue       DataType = "value"
)

// Valid reports whether d is a known data type
func (d DataType) Valid() bool {
	switch d {
	case DataArrayBuffer, DataBase64, DataBlob, DataUTF8, DataValue:
		return true
	}
	return false
}

// EncodeData converts raw file bytes into the representation for d.
func EncodeData(raw []byte, d DataType) (any, error) {
	switch d {
	case DataArrayBuffer, DataBlob:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	case DataBase64:
		return base64.StdEncoding.EncodeToString(raw), nil
	case DataUTF8, "":
		return string(raw), nil
	case DataValue:
		if len(raw) == 0 {
			return nil, nil
		}
		var v any
		if err := sonic.Unmarshal(raw, &v); err != nil {
			return nil, fserr.Invalid("value", err.Error())
		}
		return v, nil
	default:
		return nil, fserr.Invalid("data-type", string(d))
	}
}

// DecodeData converts data in representation d into raw file bytes. Binary
// types accept a base64 string, which is how JSON transports carry bytes.
func DecodeData(data any, d DataType) ([]byte, error) {
	switch d {
	case DataArrayBuffer, DataBlob:
		switch v := data.(type) {
		case []byte:
			return v, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fserr.Invalid("base64", err.Error())
			}
			return raw, nil
		case nil:
			return nil, nil
		}
		return nil, fserr.TypeMismatch("bytes", fmt.Sprintf("%T", data))
	case DataBase64:
		s, ok := data.(string)
		if !ok {
			return nil, fserr.TypeMismatch("string", fmt.Sprintf("%T", data))
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fserr.Invalid("base64", err.Error())
		}
		return raw, nil
	case DataUTF8, "":
		switch v := data.(type) {
		case string:
			return []byte(v), nil
		case []byte:
			return v, nil
		}
		return nil, fserr.TypeMismatch("string", fmt.Sprintf("%T", data))
	case DataValue:
		raw, err := sonic.Marshal(data)
		if err != nil {
			return nil, fserr.Invalid("value", err.Error())
		}
		return raw, nil
	default:
		return nil, fserr.Invalid("data-type", string(d))
	}
}

// NormalizeData restores the Go type of data after a wire round trip:
// binary types come back as []byte whatever the codec produced.
func NormalizeData(data any, d DataType) (any, error) {
	switch d {
	case DataArrayBuffer, DataBlob:
		return DecodeData(data, d)
	}
	return data, nil
}

// ReadRequest asks for Length bytes at Offset relative to Whence. A nil or
// negative Length, including one left off the wire, reads to the end of the
// file.
type ReadRequest struct {
	Offset   int64    `json:"offset"`
	Whence   Whence   `json:"whence,omitempty"`
	Length   *int64   `json:"length,omitempty"`
	DataType DataType `json:"dataType,omitempty"`
}

// ReadLength returns n for use as ReadRequest.Length.
func ReadLength(n int64) *int64 { return &n }

// End returns where a read starting at start stops in a file of size bytes.
// start must not exceed size.
func (r ReadRequest) End(start, size int64) int64 {
	if r.Length != nil && *r.Length >= 0 && *r.Length < size-start {
		return start + *r.Length
	}
	return size
}

// ReadResult carries data read at the absolute Offset.
type ReadResult struct {
	Offset   int64    `json:"offset"`
	Whence   Whence   `json:"whence"`
	DataType DataType `json:"dataType"`
	Data     any      `json:"data"`
}

// Bytes returns the result data as raw bytes.
func (r *ReadResult) Bytes() ([]byte, error) {
	return DecodeData(r.Data, r.DataType)
}

// WriteRequest writes Data at Offset relative to Whence.
type WriteRequest struct {
	Offset   int64    `json:"offset"`
	Whence   Whence   `json:"whence,omitempty"`
	DataType DataType `json:"dataType,omitempty"`
	Data     any      `json:"data"`
}

// WriteResult reports the absolute Offset the data was written at.
type WriteResult struct {
	Offset   int64    `json:"offset"`
	Whence   Whence   `json:"whence"`
	DataType DataType `json:"dataType"`
}
