package list

import (
	"testing"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/serial"
	"github.com/stretchr/testify/require"
)

func newTestList(t *testing.T) *PersistentLinkedList[int64] {
	t.Helper()
	mem := buffer.NewMemoryBuffer("mem")
	blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l, err := Open[int64](blocks, serial.Int64Codec{})
	require.NoError(t, err)
	return l
}

func TestOpenFreshIsEmpty(t *testing.T) {
	l := newTestList(t)
	require.Equal(t, int64(0), l.Size())
}

func TestAddFirstAddLastAndGet(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))
	require.NoError(t, l.AddFirst(1))
	require.Equal(t, int64(3), l.Size())

	for i, want := range []int64{1, 2, 3} {
		v, ok, err := l.Get(int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestAddNullRoundTrips(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddNullFirst())
	v, ok, err := l.Get(0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(0), v)
}

func TestRemoveFirstRemoveLast(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))

	require.NoError(t, l.RemoveFirst())
	v, ok, err := l.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v)

	require.NoError(t, l.RemoveLast())
	require.Equal(t, int64(1), l.Size())
	v, ok, err = l.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v)
}

func TestRemoveFirstOnEmptyErrors(t *testing.T) {
	l := newTestList(t)
	err := l.RemoveFirst()
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
}

func TestGetOutOfRangeErrors(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	_, _, err := l.Get(5)
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
}

func TestAddAtIndexMiddle(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(3))
	require.NoError(t, l.Add(1, 2))

	for i, want := range []int64{1, 2, 3} {
		v, ok, err := l.Get(int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestRemoveAtIndex(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))
	require.NoError(t, l.RemoveAt(1))

	v, ok, err := l.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), v)
}

func TestSetReplacesElement(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))
	require.NoError(t, l.Set(1, 99))

	v, ok, err := l.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(99), v)
	require.Equal(t, int64(3), l.Size())
}

func TestSetFirstElement(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.Set(0, 100))
	v, ok, err := l.Get(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), v)
}

func TestIteratorForward(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))

	it := l.Iterator()
	var got []int64
	for it.HasNext() {
		v, ok, err := it.Next()
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, v)
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestDescendingIterator(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))

	it := l.DescendingIterator()
	var got []int64
	for it.HasNext() {
		v, ok, err := it.Next()
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, v)
	}
	require.Equal(t, []int64{3, 2, 1}, got)
}

func TestIteratorRemove(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))

	it := l.Iterator()
	_, _, err := it.Next()
	require.NoError(t, err)
	_, _, err = it.Next()
	require.NoError(t, err)
	require.NoError(t, it.Remove())
	require.Equal(t, int64(2), l.Size())

	v, ok, err := l.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), v)
}

func TestIteratorDetectsConcurrentModification(t *testing.T) {
	l := newTestList(t)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))

	it := l.Iterator()
	_, _, err := it.Next()
	require.NoError(t, err)

	require.NoError(t, l.AddLast(3))

	_, _, err = it.Next()
	var cme *ConcurrentModificationError
	require.ErrorAs(t, err, &cme)
}

func TestReopenPreservesContents(t *testing.T) {
	mem := buffer.NewMemoryBuffer("mem")
	blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l, err := Open[int64](blocks, serial.Int64Codec{})
	require.NoError(t, err)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))
	require.NoError(t, l.AddLast(3))
	require.NoError(t, l.Close())

	blocks2, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l2, err := Open[int64](blocks2, serial.Int64Codec{})
	require.NoError(t, err)
	require.Equal(t, int64(3), l2.Size())
	for i, want := range []int64{1, 2, 3} {
		v, ok, err := l2.Get(int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestRecoveryDeallocatesOrphanedBlock(t *testing.T) {
	mem := buffer.NewMemoryBuffer("mem")
	blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l, err := Open[int64](blocks, serial.Int64Codec{})
	require.NoError(t, err)
	require.NoError(t, l.AddLast(1))
	require.NoError(t, l.AddLast(2))

	// Simulate a crash between an entry's allocation and its being
	// wired into the chain: an allocated block reachable by no walk.
	orphanID, err := blocks.Allocate(entryHeadSize)
	require.NoError(t, err)
	require.NoError(t, writeEntryHeader(blocks, orphanID, endPtr, endPtr, -1))
	require.NoError(t, blocks.Barrier(true))
	require.NoError(t, l.Close())

	blocks2, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l2, err := Open[int64](blocks2, serial.Int64Codec{})
	require.NoError(t, err)
	require.Equal(t, int64(2), l2.Size())

	// Recovery deallocated the orphan: only the meta block and the two
	// wired-in entries remain allocated, and both entries still read back.
	var live int
	for it := blocks2.IterateBlockIds(); it.HasNext(); {
		_, err := it.Next()
		require.NoError(t, err)
		live++
	}
	require.Equal(t, 3, live)
	for i, want := range []int64{1, 2} {
		v, ok, err := l2.Get(int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestOpenReadOnlyReportsOrphanInsteadOfRepairing(t *testing.T) {
	mem := buffer.NewMemoryBuffer("mem")
	blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	l, err := Open[int64](blocks, serial.Int64Codec{})
	require.NoError(t, err)
	require.NoError(t, l.AddLast(1))

	orphanID, err := blocks.Allocate(entryHeadSize)
	require.NoError(t, err)
	require.NoError(t, writeEntryHeader(blocks, orphanID, endPtr, endPtr, -1))
	require.NoError(t, blocks.Barrier(true))
	require.NoError(t, l.Close())

	blocks2, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	_, err = OpenReadOnly[int64](blocks2, serial.Int64Codec{})
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func TestOpenReadOnlyOnUninitializedBufferErrors(t *testing.T) {
	mem := buffer.NewMemoryBuffer("mem")
	blocks, err := block.OpenDynamicPersistentBlockBuffer(mem, block.Config{})
	require.NoError(t, err)
	_, err = OpenReadOnly[int64](blocks, serial.Int64Codec{})
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
}
