package block

import (
	"testing"

	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/stretchr/testify/require"
)

func TestFixedAllocateDeallocateReuse(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	f, err := OpenFixedPersistentBlockBuffer(buf, Config{BlockSize: 64})
	require.NoError(t, err)

	id1, err := f.Allocate(64)
	require.NoError(t, err)
	id2, err := f.Allocate(64)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.NoError(t, f.WriteAt(id1, 0, []byte("hi")))
	out := make([]byte, 2)
	require.NoError(t, f.ReadAt(id1, 0, out))
	require.Equal(t, "hi", string(out))

	require.NoError(t, f.Deallocate(id1))
	id3, err := f.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, id1, id3, "lowest freed id should be reused first")
}

func TestFixedDeallocateTwicePanics(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	f, err := OpenFixedPersistentBlockBuffer(buf, Config{BlockSize: 64})
	require.NoError(t, err)
	id, err := f.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, f.Deallocate(id))
	require.Panics(t, func() { _ = f.Deallocate(id) })
}

func TestFixedIterateBlockIds(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	f, err := OpenFixedPersistentBlockBuffer(buf, Config{BlockSize: 32})
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := f.Allocate(32)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, f.Deallocate(ids[2]))

	it := f.IterateBlockIds()
	var seen []int64
	for it.HasNext() {
		id, err := it.Next()
		require.NoError(t, err)
		seen = append(seen, id)
	}
	require.Len(t, seen, 4)
	require.NotContains(t, seen, ids[2])
}

func TestDynamicAllocateSplitsAndCoalesces(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	d, err := OpenDynamicPersistentBlockBuffer(buf, Config{})
	require.NoError(t, err)

	id, err := d.Allocate(100)
	require.NoError(t, err)
	cap, err := d.BlockCapacity(id)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap, int64(100))

	require.NoError(t, d.WriteAt(id, 0, []byte("payload")))
	out := make([]byte, len("payload"))
	require.NoError(t, d.ReadAt(id, 0, out))
	require.Equal(t, "payload", string(out))

	require.NoError(t, d.Deallocate(id))

	// Allocating the same size again should reuse the coalesced region
	// rather than growing the file.
	capBefore := buf.Capacity()
	id2, err := d.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, capBefore, buf.Capacity())
	require.NoError(t, d.Deallocate(id2))
}

func TestDynamicDeallocateTwicePanics(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	d, err := OpenDynamicPersistentBlockBuffer(buf, Config{})
	require.NoError(t, err)
	id, err := d.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, d.Deallocate(id))
	require.Panics(t, func() { _ = d.Deallocate(id) })
}

func TestDynamicReopenRebuildsFreeSpaceMap(t *testing.T) {
	buf := buffer.NewMemoryBuffer("mem")
	d, err := OpenDynamicPersistentBlockBuffer(buf, Config{})
	require.NoError(t, err)
	a, err := d.Allocate(16)
	require.NoError(t, err)
	b, err := d.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, d.Deallocate(a))

	d2, err := OpenDynamicPersistentBlockBuffer(buf, Config{})
	require.NoError(t, err)
	c, err := d2.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, a, c, "reopened allocator should recognize the freed block")
	_ = b
}
