package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
	"github.com/GriffinCanCode/axiom/internal/vfs"
	"github.com/GriffinCanCode/axiom/internal/vfs/memfs"
)

func TestManagerMount(t *testing.T) {
	m := vfs.NewManager(nil)

	a, err := memfs.New("a")
	require.NoError(t, err)
	b, err := memfs.New("b")
	require.NoError(t, err)

	require.NoError(t, m.Mount(a))
	require.NoError(t, m.Mount(b))
	assert.Equal(t, []string{"a", "b"}, m.Names())

	dup, err := memfs.New("a")
	require.NoError(t, err)
	err = m.Mount(dup)
	assert.True(t, fserr.Is(err, fserr.KindDuplicate))

	got, err := m.Resolve(path.Parse("b:/x/y"))
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = m.Resolve(path.Parse("c:/"))
	assert.True(t, fserr.Is(err, fserr.KindNotFound))

	_, err = m.Resolve(path.Parse("no-colon"))
	assert.True(t, fserr.Is(err, fserr.KindInvalid))
}

func TestManagerEvictsClosedFileSystem(t *testing.T) {
	m := vfs.NewManager(nil)
	fs, err := memfs.New("tmp")
	require.NoError(t, err)
	require.NoError(t, m.Mount(fs))

	require.NoError(t, fs.Close())
	assert.Empty(t, m.Names())

	// the name is free again
	again, err := memfs.New("tmp")
	require.NoError(t, err)
	assert.NoError(t, m.Mount(again))
}

func TestManagerUnmountClosesContexts(t *testing.T) {
	m := vfs.NewManager(nil)
	fs, err := memfs.New("tmp")
	require.NoError(t, err)
	require.NoError(t, m.Mount(fs))

	oc, err := fs.CreateOpenContext(path.Parse("tmp:/f"), vfs.MustOpenMode("w"))
	require.NoError(t, err)

	require.NoError(t, m.Unmount("tmp"))
	assert.True(t, oc.State().Terminal())

	outcome, ok := oc.Outcome()
	require.True(t, ok)
	assert.True(t, fserr.Is(outcome.Err(), fserr.KindParentClosed))

	err = m.Unmount("tmp")
	assert.True(t, fserr.Is(err, fserr.KindNotFound))
}

func TestManagerRejectsClosedFileSystem(t *testing.T) {
	m := vfs.NewManager(nil)
	fs, err := memfs.New("tmp")
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	err = m.Mount(fs)
	assert.True(t, fserr.Is(err, fserr.KindInvalidStateTransition))
}
