package buffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func TestMemoryBufferGetPut(t *testing.T) {
	b := NewMemoryBuffer("mem")
	require.NoError(t, b.SetCapacity(100))
	require.NoError(t, b.Put(10, []byte("hello")))
	out := make([]byte, 5)
	require.NoError(t, b.Get(10, out))
	require.Equal(t, "hello", string(out))
}

func TestMemoryBufferGrowZeroFills(t *testing.T) {
	b := NewMemoryBuffer("mem")
	require.NoError(t, b.SetCapacity(8))
	require.NoError(t, b.Put(0, []byte{1, 2, 3, 4}))
	require.NoError(t, b.SetCapacity(16))
	out := make([]byte, 8)
	require.NoError(t, b.Get(8, out))
	require.Equal(t, make([]byte, 8), out)
}

func TestMemoryBufferCapacityExceeded(t *testing.T) {
	b := NewMemoryBuffer("mem")
	require.NoError(t, b.SetCapacity(4))
	err := b.Put(0, []byte{1, 2, 3, 4, 5})
	require.Error(t, err)
	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
}

func TestMemoryBufferEnsureZerosOnAlreadyZeroRegion(t *testing.T) {
	b := NewMemoryBuffer("mem")
	require.NoError(t, b.SetCapacity(16))
	require.NoError(t, b.EnsureZeros(0, 16))
	out := make([]byte, 16)
	require.NoError(t, b.Get(0, out))
	require.Equal(t, make([]byte, 16), out)
}

func TestDirectBufferRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.db")
	b, err := OpenDirectBuffer(path, Config{ProtectionLevel: Force})
	require.NoError(t, err)
	require.NoError(t, b.SetCapacity(64))
	require.NoError(t, b.PutI64(0, 123456789))
	require.NoError(t, b.Barrier(true))
	require.NoError(t, b.Close())

	b2, err := OpenDirectBuffer(path, Config{ProtectionLevel: Force})
	require.NoError(t, err)
	defer b2.Close()
	v, err := b2.GetI64(0)
	require.NoError(t, err)
	require.Equal(t, int64(123456789), v)
}

func TestDirectBufferReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	b, err := OpenDirectBuffer(path, Config{ProtectionLevel: Force})
	require.NoError(t, err)
	require.NoError(t, b.SetCapacity(8))
	require.NoError(t, b.Close())

	ro, err := OpenDirectBuffer(path, Config{ProtectionLevel: ReadOnly})
	require.NoError(t, err)
	defer ro.Close()
	err = ro.Put(0, []byte{1})
	var roErr *ReadOnlyError
	require.ErrorAs(t, err, &roErr)
}

func TestDirectBufferMaxCapacityHintPreallocatesFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hinted.db")
	b, err := OpenDirectBuffer(path, Config{ProtectionLevel: Force, MaxCapacityHint: 1 << 20})
	require.NoError(t, err)
	defer b.Close()
	// The hint preallocates disk space, not the logical buffer.
	require.Equal(t, int64(0), b.Capacity())
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), fi.Size())
}

func TestTwoCopyBarrierBufferCommitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.db")
	b, err := OpenTwoCopyBarrierBuffer(path, Config{ProtectionLevel: Force, AsyncCommitDelay: DisableAsyncCommit})
	require.NoError(t, err)
	require.NoError(t, b.SetCapacity(4096))
	require.NoError(t, b.Put(0, []byte("persisted sector")))
	require.NoError(t, b.Barrier(true))
	require.NoError(t, b.Close())

	b2, err := OpenTwoCopyBarrierBuffer(path, Config{ProtectionLevel: Force, AsyncCommitDelay: DisableAsyncCommit})
	require.NoError(t, err)
	defer b2.Close()
	out := make([]byte, len("persisted sector"))
	require.NoError(t, b2.Get(0, out))
	require.Equal(t, "persisted sector", string(out))
}

func TestTwoCopyBarrierBufferRecoversFromOrphanedNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orphan.db")
	b, err := OpenTwoCopyBarrierBuffer(path, Config{ProtectionLevel: Force, AsyncCommitDelay: DisableAsyncCommit})
	require.NoError(t, err)
	require.NoError(t, b.SetCapacity(4096))
	require.NoError(t, b.Barrier(true))
	require.NoError(t, b.Close())

	// Simulate a crash mid-step-2: a base.new left over alongside a good
	// base and base.old. recoverTwoCopyFileSet must discard it.
	require.NoError(t, copyFile(path, path+".new"))

	b2, err := OpenTwoCopyBarrierBuffer(path, Config{ProtectionLevel: Force, AsyncCommitDelay: DisableAsyncCommit})
	require.NoError(t, err)
	defer b2.Close()
	require.Equal(t, int64(4096), b2.Capacity())
}

// TestTwoCopyBarrierBufferFreshSetCapacityDoesNotEOF reproduces the bug
// that motivated the physical-truncate-first fix in SetCapacity: a
// fresh two-copy buffer's base file starts at 0 physical bytes, and
// growing the logical capacity must not read past that before the
// first commit.
func TestTwoCopyBarrierBufferFreshSetCapacityDoesNotEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	b, err := OpenTwoCopyBarrierBuffer(path, Config{ProtectionLevel: Force, AsyncCommitDelay: DisableAsyncCommit})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.SetCapacity(4096))
	out := make([]byte, 4096)
	require.NoError(t, b.Get(0, out))
	require.Equal(t, make([]byte, 4096), out)
}
