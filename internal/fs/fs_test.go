package fs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "index")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "_0.si")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	require.NoError(t, lfs.SyncDir(dir))

	info, err := lfs.Stat(fpath)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	renamed := filepath.Join(dir, "_1.si")
	require.NoError(t, lfs.Rename(fpath, renamed))
	require.NoError(t, lfs.Remove(renamed))

	_, err = lfs.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalFSLockIsExclusive(t *testing.T) {
	name := filepath.Join(t.TempDir(), "write.lock")

	l1, err := Default.Lock(name)
	require.NoError(t, err)

	_, err = Default.Lock(name)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l1.Close())

	l2, err := Default.Lock(name)
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestFaultyFSGlobalLimitIsENOSPC(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.SetLimit(5)

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "_0.fdt"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Equal(t, int64(5), ffs.Written())
}

func TestFaultyFSRules(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule(".liv", Fault{FailOnSync: true})
	ffs.AddRule("segments_", Fault{FailAfterBytes: 3})

	liv, err := ffs.OpenFile(filepath.Join(tmp, "_0_1.liv"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, liv.Sync(), ErrInjected)
	require.NoError(t, liv.Close())

	seg, err := ffs.OpenFile(filepath.Join(tmp, "segments_1"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = seg.Write([]byte("abcd"))
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, seg.Close())

	other, err := ffs.OpenFile(filepath.Join(tmp, "_0.fdt"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.NoError(t, other.Sync())
	require.NoError(t, other.Close())

	ffs.ClearRules()
	liv, err = ffs.OpenFile(filepath.Join(tmp, "_0_1.liv"), os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.NoError(t, liv.Sync())
	require.NoError(t, liv.Close())
}

func TestFaultyFSRenameAndRemove(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	path := filepath.Join(tmp, "pending_segments_2")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ffs.SetFailRename(true)
	assert.ErrorIs(t, ffs.Rename(path, filepath.Join(tmp, "segments_2")), ErrInjected)

	ffs.SetFailRemove(true)
	assert.ErrorIs(t, ffs.Remove(path), ErrInjected)

	ffs.ClearRules()
	require.NoError(t, ffs.Rename(path, filepath.Join(tmp, "segments_2")))
	require.NoError(t, ffs.Remove(filepath.Join(tmp, "segments_2")))
}
