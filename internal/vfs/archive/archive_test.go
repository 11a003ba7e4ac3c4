package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

func p(spec string) path.Path { return path.Parse(spec) }

func newFS(t *testing.T, name string) *memfs.FileSystem {
	t.Helper()
	fs, err := memfs.New(name)
	require.NoError(t, err)
	return fs
}

func seeded(t *testing.T) *memfs.FileSystem {
	t.Helper()
	ctx := context.Background()
	fs := newFS(t, "src")
	require.NoError(t, fs.MkdirAll(ctx, p("src:/docs/deep")))
	require.NoError(t, fs.WriteFile(p("src:/top.txt"), []byte("top")))
	require.NoError(t, fs.WriteFile(p("src:/docs/deep/a.bin"), []byte{0, 1, 2, 3}))
	require.NoError(t, fs.AddExecutable(p("src:/tool"), &vfs.Executable{
		Run: func(context.Context, vfs.ExecuteContext) (any, error) { return nil, nil },
	}))
	return fs
}

func TestCreateExtractRoundTrip(t *testing.T) {
	for _, c := range []Compression{None, Gzip, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			ctx := context.Background()
			var buf bytes.Buffer

			sum, err := Create(ctx, &buf, seeded(t), p("src:/"), c)
			require.NoError(t, err)
			assert.Equal(t, Summary{Dirs: 2, Files: 2, Bytes: 7, Skipped: 1}, sum)

			dst := newFS(t, "dst")
			require.NoError(t, dst.Mkdir(ctx, p("dst:/restore")))
			sum, err = Extract(ctx, &buf, c, dst, p("dst:/restore"))
			require.NoError(t, err)
			assert.Equal(t, 2, sum.Files)

			data, err := dst.ReadFile(p("dst:/restore/docs/deep/a.bin"))
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2, 3}, data)
			data, err = dst.ReadFile(p("dst:/restore/top.txt"))
			require.NoError(t, err)
			assert.Equal(t, "top", string(data))
		})
	}
}

func TestCreateSubtree(t *testing.T) {
	var buf bytes.Buffer
	_, err := Create(context.Background(), &buf, seeded(t), p("src:/docs"), None)
	require.NoError(t, err)

	tr := tar.NewReader(&buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"deep/", "deep/a.bin"}, names)
}

func TestExtractSkipsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range []string{"../evil.txt", "ok.txt", "bad|name.txt"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: 2}))
		_, err := tw.Write([]byte("hi"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	dst := newFS(t, "dst")
	sum, err := Extract(context.Background(), &buf, None, dst, p("dst:/"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)
	assert.Equal(t, 2, sum.Skipped)

	_, err = dst.ReadFile(p("dst:/evil.txt"))
	assert.True(t, fserr.Is(err, fserr.KindNotFound))
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := Extract(context.Background(), bytes.NewReader([]byte("not an archive")), Gzip, newFS(t, "dst"), p("dst:/"))
	assert.True(t, fserr.Is(err, fserr.KindInvalid))
}

func TestImportDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "c.txt"), []byte("deep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.txt"), []byte("root"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad|name"), []byte("x"), 0o644))

	fs := newFS(t, "home")
	sum, err := ImportDir(context.Background(), dir, fs, p("home:/"))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Dirs)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 1, sum.Skipped)

	data, err := fs.ReadFile(p("home:/a/b/c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, Gzip, c)
	assert.Equal(t, ".tar.zst", Zstd.Ext())

	_, err = ParseCompression("rar")
	assert.True(t, fserr.Is(err, fserr.KindInvalid))
}
