package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_CreatesFileAndDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteFile(path, []byte("one"), 0o600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteFile_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, WriteFile(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFile(path, []byte("x"), 0o644))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFile_UnwritableDirFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// A regular file cannot be used as a parent directory.
	err := WriteFile(filepath.Join(blocker, "state.json"), []byte("y"), 0o644)
	assert.Error(t, err)
}

func TestCleanTemp_RemovesOnlyTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, WriteFile(path, []byte("keep"), 0o644))

	for _, name := range []string{"state.json.123.tmp", "state.json.abc.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("partial"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json.1.tmp"), []byte("z"), 0o644))

	n, err := CleanTemp(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = os.Stat(path)
	assert.NoError(t, err, "canonical file must survive")
	_, err = os.Stat(filepath.Join(dir, "other.json.1.tmp"))
	assert.NoError(t, err, "unrelated temp file must survive")
}
