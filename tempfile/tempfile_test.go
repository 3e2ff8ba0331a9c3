package tempfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileCreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, WriteFile(path, []byte("hello world")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestWriteFileReplacesExistingContentsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, WriteFile(path, []byte("first")))
	require.NoError(t, WriteFile(path, []byte("second, longer than first")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second, longer than first", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file should remain alongside the renamed-over target")
}

func TestWriteFileFromDrainsReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, WriteFileFrom(path, bytes.NewReader([]byte("streamed"))))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "streamed", string(got))
}
