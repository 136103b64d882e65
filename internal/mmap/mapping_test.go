package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_0.fdt")
	require.NoError(t, os.WriteFile(path, []byte("hello mapped world"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, 18, m.Len())
	assert.Equal(t, "hello", string(m.Bytes()[:5]))

	region, err := m.Region(6, 6)
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(region))

	_, err = m.Region(10, 100)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	buf := make([]byte, 10)
	n, err := m.ReadAt(buf, 13)
	assert.Equal(t, 5, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "world", string(buf[:n]))

	assert.NoError(t, m.Advise(AccessRandom))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	_, err = m.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMappingEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.Advise(AccessSequential))
}
