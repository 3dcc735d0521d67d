package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirExists(t *testing.T) {
	base := t.TempDir()
	p, err := EnsureDirExists(filepath.Join(base, "a", "b"))
	require.NoError(t, err)
	assert.True(t, DirExists(p))

	// Idempotent.
	_, err = EnsureDirExists(filepath.Join(base, "a", "b"))
	require.NoError(t, err)
}

func TestFileExists(t *testing.T) {
	base := t.TempDir()
	f := filepath.Join(base, "x.txt")
	assert.False(t, FileExists(f))
	require.NoError(t, os.WriteFile(f, []byte("hi"), 0644))
	assert.True(t, FileExists(f))
	assert.False(t, FileExists(base)) // a directory is not a file
}

func TestRemoveIfEmpty(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0644))

	removed, err := RemoveIfEmpty(sub)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, os.Remove(filepath.Join(sub, "f")))
	removed, err = RemoveIfEmpty(sub)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, DirExists(sub))
}
