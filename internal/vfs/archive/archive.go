package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
)

// Compression selects the stream wrapped around the tar
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// ParseCompression accepts none, gzip and zstd. Empty means gzip.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", Gzip:
		return Gzip, nil
	case None, Zstd:
		return Compression(s), nil
	}
	return "", fserr.Invalid("compression", s)
}

// Ext is the conventional file extension
func (c Compression) Ext() string {
	switch c {
	case Gzip:
		return ".tar.gz"
	case Zstd:
		return ".tar.zst"
	}
	return ".tar"
}

// CompressionOf picks the compression from a file name
func CompressionOf(name string) (Compression, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return Zstd, nil
	case strings.HasSuffix(lower, ".tar"):
		return None, nil
	}
	return "", fserr.Invalid("archive", name)
}

// ContentType is the media type served for c
func (c Compression) ContentType() string {
	switch c {
	case Gzip:
		return "application/gzip"
	case Zstd:
		return "application/zstd"
	}
	return "application/x-tar"
}

// MaxDepth bounds recursion into aliased directories.
const MaxDepth = 64

// MaxFileSize bounds a single extracted file.
const MaxFileSize = 64 << 20

// Summary counts what an archive operation touched
type Summary struct {
	Dirs    int   `json:"dirs"`
	Files   int   `json:"files"`
	Bytes   int64 `json:"bytes"`
	Skipped int   `json:"skipped"`
}

// Sink receives extracted nodes
type Sink interface {
	MkdirAll(ctx context.Context, p path.Path) error
	WriteFile(p path.Path, data []byte) error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case None:
		return nopCloser{w}, nil
	}
	return nil, fserr.Invalid("compression", string(c))
}

func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fserr.Invalid("archive", err.Error())
		}
		return zr, func() { zr.Close() }, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fserr.Invalid("archive", err.Error())
		}
		return zr, zr.Close, nil
	case None:
		return r, func() {}, nil
	}
	return nil, nil, fserr.Invalid("compression", string(c))
}

// Create writes the tree under from as a tar. It works on any FileSystem:
// directories are listed and readable files are read through an
// OpenContext. Nodes that are neither are skipped.
func Create(ctx context.Context, w io.Writer, fs vfs.FileSystem, from path.Path, c Compression) (Summary, error) {
	var sum Summary

	cw, err := compressor(w, c)
	if err != nil {
		return sum, err
	}
	tw := tar.NewWriter(cw)

	var walk func(dir path.Path, prefix string, depth int) error
	walk = func(dir path.Path, prefix string, depth int) error {
		if depth > MaxDepth {
			sum.Skipped++
			return nil
		}
		entries, err := fs.List(ctx, dir)
		if err != nil {
			return err
		}
		for _, name := range sortedNames(entries) {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := entries[name]
			p := dir.Combine(name)
			rel := prefix + name

			switch {
			case st.IsDir():
				if err := tw.WriteHeader(header(rel+"/", st, tar.TypeDir, 0)); err != nil {
					return err
				}
				sum.Dirs++
				if err := walk(p, rel+"/", depth+1); err != nil {
					return err
				}
			case st.Mode.Has(vfs.ModeR):
				data, err := readFile(ctx, fs, p)
				if err != nil {
					return fmt.Errorf("read %s: %w", p, err)
				}
				if err := tw.WriteHeader(header(rel, st, tar.TypeReg, int64(len(data)))); err != nil {
					return err
				}
				if _, err := tw.Write(data); err != nil {
					return err
				}
				sum.Files++
				sum.Bytes += int64(len(data))
			default:
				sum.Skipped++
			}
		}
		return nil
	}

	if err := walk(from, "", 0); err != nil {
		return sum, err
	}
	if err := tw.Close(); err != nil {
		return sum, err
	}
	return sum, cw.Close()
}

func header(name string, st *vfs.StatResult, typ byte, size int64) *tar.Header {
	mode := int64(0o644)
	if typ == tar.TypeDir || st.Mode.Has(vfs.ModeX) {
		mode = 0o755
	}
	return &tar.Header{
		Name:     name,
		Typeflag: typ,
		Mode:     mode,
		Size:     size,
		ModTime:  st.ModTime().Truncate(time.Second),
		Format:   tar.FormatPAX,
	}
}

func readFile(ctx context.Context, fs vfs.FileSystem, p path.Path) ([]byte, error) {
	oc, err := fs.CreateOpenContext(p, vfs.MustOpenMode("r"))
	if err != nil {
		return nil, err
	}
	defer oc.Close()

	if _, err := oc.Open(ctx); err != nil {
		return nil, err
	}
	res, err := oc.Read(ctx, vfs.ReadRequest{DataType: vfs.DataArrayBuffer})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

// Extract unpacks a tar into sink below dest. Entries whose names are not
// valid path elements, links and other special entries are skipped.
func Extract(ctx context.Context, r io.Reader, c Compression, sink Sink, dest path.Path) (Summary, error) {
	var sum Summary

	dr, done, err := decompressor(r, c)
	if err != nil {
		return sum, err
	}
	defer done()

	tr := tar.NewReader(dr)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fserr.Invalid("archive", err.Error())
		}

		p, ok := entryPath(dest, hdr.Name)
		if !ok {
			sum.Skipped++
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := sink.MkdirAll(ctx, p); err != nil {
				return sum, err
			}
			sum.Dirs++
		case tar.TypeReg:
			if hdr.Size > MaxFileSize {
				return sum, fserr.Invalid("size", hdr.Size)
			}
			data, err := io.ReadAll(io.LimitReader(tr, MaxFileSize))
			if err != nil {
				return sum, fserr.Invalid("archive", err.Error())
			}
			if parent, ok := p.Parent(); ok && !parent.IsRoot() {
				if err := sink.MkdirAll(ctx, parent); err != nil {
					return sum, err
				}
			}
			if err := sink.WriteFile(p, data); err != nil {
				return sum, err
			}
			sum.Files++
			sum.Bytes += int64(len(data))
		default:
			sum.Skipped++
		}
	}
}

// entryPath resolves an archive member name below dest. Names that climb
// out of dest or contain characters paths cannot hold are rejected.
func entryPath(dest path.Path, name string) (path.Path, bool) {
	name = strings.Trim(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" || name == "." {
		return path.Path{}, false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return path.Path{}, false
		}
	}
	p := dest.Combine(name)
	if !p.IsValid() || p.Equal(dest) || !p.HasPrefix(dest) {
		return path.Path{}, false
	}
	return p, true
}
