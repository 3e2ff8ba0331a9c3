package block

import (
	"container/heap"
	"math/bits"

	"github.com/ao-apps/ao-persistence/buffer"
)

// singleBitmapThreshold is the B at or above which FixedPersistentBlockBuffer
// switches from the interleaved-bitmap layout to a single bitmap prefix
// (spec.md §4.4).
const singleBitmapThreshold = 1 << 30

// idHeap is a min-heap of known-free block ids, popped in FLT fashion to
// prefer reusing the lowest free id (container/heap-backed, mirroring
// the teacher's preference for hand-rolled data structures over a
// generic ordered container for a single bounded purpose).
type idHeap []int64

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// FixedPersistentBlockBuffer allocates identically sized blocks over a
// buffer.PersistentBuffer, tracking allocation with a bitmap (spec.md
// §4.4). The fixed-block layout carries no per-block header: every
// block's capacity equals B.
type FixedPersistentBlockBuffer struct {
	buf    buffer.PersistentBuffer
	b      int64 // block size in bytes
	m      int64 // bitmap size (single-bitmap mode) or == b (interleaved)
	page   int64 // capacity growth granularity
	single bool

	lowestFreeID int64
	freeIDs      idHeap
	mutations    int64
}

// OpenFixedPersistentBlockBuffer opens buf as a fixed-block allocator
// with block size cfg.BlockSize. buf's existing content (if any) is
// treated as already laid out in this format; a freshly empty buf is a
// valid empty allocator.
func OpenFixedPersistentBlockBuffer(buf buffer.PersistentBuffer, cfg Config) (*FixedPersistentBlockBuffer, error) {
	cfg = cfg.normalized()
	b := cfg.BlockSize
	single := b >= singleBitmapThreshold
	var m int64
	if single {
		e := 63 - bits.LeadingZeros64(uint64(b))
		if e < 3 {
			m = 1
		} else {
			m = int64(1) << uint(e-3)
		}
	} else {
		m = b
	}
	f := &FixedPersistentBlockBuffer{buf: buf, b: b, m: m, page: cfg.PageSize, single: single}
	if err := f.ensureInitialCapacity(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FixedPersistentBlockBuffer) ensureInitialCapacity() error {
	if f.buf.Capacity() > 0 {
		return nil
	}
	var initial int64
	if f.single {
		initial = f.m + f.b // bitmap prefix + one slot
	} else {
		initial = f.b + 8*f.b*f.b // one bitmap group + its data region
	}
	initial = roundUp(initial, f.page)
	return f.buf.SetCapacity(initial)
}

func roundUp(n, align int64) int64 {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// slotOffset returns the byte offset of slot id's payload.
func (f *FixedPersistentBlockBuffer) slotOffset(id int64) int64 {
	if f.single {
		return f.m + id*f.b
	}
	slotsPerGroup := 8 * f.b
	groupSize := f.b + slotsPerGroup*f.b
	group := id / slotsPerGroup
	within := id % slotsPerGroup
	return group*groupSize + f.b + within*f.b
}

// bitOffset returns the byte offset and bit index (within that byte)
// of id's allocation bit.
func (f *FixedPersistentBlockBuffer) bitOffset(id int64) (byteOff int64, bit uint) {
	if f.single {
		return id / 8, uint(id % 8)
	}
	slotsPerGroup := 8 * f.b
	groupSize := f.b + slotsPerGroup*f.b
	group := id / slotsPerGroup
	within := id % slotsPerGroup
	return group*groupSize + within/8, uint(within % 8)
}

func (f *FixedPersistentBlockBuffer) bitSet(id int64) (bool, error) {
	off, bit := f.bitOffset(id)
	if off >= f.buf.Capacity() {
		return false, nil
	}
	v, err := f.buf.GetByte(off)
	if err != nil {
		return false, err
	}
	return v&(1<<bit) != 0, nil
}

func (f *FixedPersistentBlockBuffer) setBit(id int64, val bool) error {
	off, bit := f.bitOffset(id)
	if off >= f.buf.Capacity() {
		if err := f.growToFit(off + 1); err != nil {
			return err
		}
	}
	v, err := f.buf.GetByte(off)
	if err != nil {
		return err
	}
	if val {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return f.buf.PutByte(off, v)
}

func (f *FixedPersistentBlockBuffer) growToFit(minCapacity int64) error {
	need := f.slotOffset(f.idAtOffset(minCapacity)) + f.b
	if need < minCapacity {
		need = minCapacity
	}
	return f.buf.SetCapacity(roundUp(need, f.page))
}

// idAtOffset estimates the id whose slot would start at or after off,
// used only to size a grow request generously; it need not be exact.
func (f *FixedPersistentBlockBuffer) idAtOffset(off int64) int64 {
	if f.single {
		if off <= f.m {
			return 0
		}
		return (off - f.m) / f.b
	}
	slotsPerGroup := 8 * f.b
	groupSize := f.b + slotsPerGroup*f.b
	group := off / groupSize
	return group*slotsPerGroup + slotsPerGroup - 1
}

// Allocate implements PersistentBlockBuffer.Allocate. minSize is
// validated against the fixed block size but otherwise ignored.
func (f *FixedPersistentBlockBuffer) Allocate(minSize int64) (int64, error) {
	if minSize > f.b {
		return 0, &OutOfRangeError{Op: "Allocate"}
	}
	var id int64
	if len(f.freeIDs) > 0 {
		id = heap.Pop(&f.freeIDs).(int64)
	} else {
		var err error
		id, err = f.scanForFree()
		if err != nil {
			return 0, err
		}
	}
	if end := f.slotOffset(id) + f.b; end > f.buf.Capacity() {
		if err := f.buf.SetCapacity(roundUp(end, f.page)); err != nil {
			return 0, err
		}
	}
	if err := f.setBit(id, true); err != nil {
		return 0, err
	}
	f.mutations++
	return id, nil
}

// scanForFree advances lowestFreeID one bit at a time over the bitmap
// until an unset bit is found. Bits past the current capacity read as
// unset; it never grows the file itself, Allocate does that when the
// returned slot lies past the current capacity.
func (f *FixedPersistentBlockBuffer) scanForFree() (int64, error) {
	for {
		set, err := f.bitSet(f.lowestFreeID)
		if err != nil {
			return 0, err
		}
		if !set {
			id := f.lowestFreeID
			f.lowestFreeID++
			return id, nil
		}
		f.lowestFreeID++
	}
}

// Deallocate clears id's allocation bit. Per spec.md §7, deallocating
// an already-free block is a programmer error, not a recoverable fault.
func (f *FixedPersistentBlockBuffer) Deallocate(id int64) error {
	set, err := f.bitSet(id)
	if err != nil {
		return err
	}
	if !set {
		panic(AlreadyDeallocatedPanic{ID: id})
	}
	if err := f.setBit(id, false); err != nil {
		return err
	}
	heap.Push(&f.freeIDs, id)
	if id < f.lowestFreeID {
		f.lowestFreeID = id
	}
	f.mutations++
	return nil
}

func (f *FixedPersistentBlockBuffer) BlockCapacity(id int64) (int64, error) {
	set, err := f.bitSet(id)
	if err != nil {
		return 0, err
	}
	if !set {
		return 0, &NotAllocatedError{Op: "BlockCapacity", ID: id}
	}
	return f.b, nil
}

func (f *FixedPersistentBlockBuffer) checkRange(op string, id, off int64, n int) error {
	set, err := f.bitSet(id)
	if err != nil {
		return err
	}
	if !set {
		return &NotAllocatedError{Op: op, ID: id}
	}
	if off < 0 || off+int64(n) > f.b {
		return &OutOfRangeError{Op: op, ID: id, Off: off}
	}
	return nil
}

func (f *FixedPersistentBlockBuffer) ReadAt(id, off int64, b []byte) error {
	if err := f.checkRange("ReadAt", id, off, len(b)); err != nil {
		return err
	}
	return f.buf.Get(f.slotOffset(id)+off, b)
}

func (f *FixedPersistentBlockBuffer) WriteAt(id, off int64, b []byte) error {
	if err := f.checkRange("WriteAt", id, off, len(b)); err != nil {
		return err
	}
	return f.buf.Put(f.slotOffset(id)+off, b)
}

func (f *FixedPersistentBlockBuffer) InputStream(id, off, length int64) (*buffer.InputStream, error) {
	if err := f.checkRange("InputStream", id, off, int(length)); err != nil {
		return nil, err
	}
	return f.buf.InputStream(f.slotOffset(id)+off, length)
}

func (f *FixedPersistentBlockBuffer) OutputStream(id, off, length int64) (*buffer.OutputStream, error) {
	if err := f.checkRange("OutputStream", id, off, int(length)); err != nil {
		return nil, err
	}
	return f.buf.OutputStream(f.slotOffset(id)+off, length)
}

func (f *FixedPersistentBlockBuffer) Barrier(force bool) error { return f.buf.Barrier(force) }
func (f *FixedPersistentBlockBuffer) Close() error             { return f.buf.Close() }

// IterateBlockIds returns a forward bitmap-scanning iterator.
func (f *FixedPersistentBlockBuffer) IterateBlockIds() BlockIterator {
	return &fixedIterator{f: f, next: 0, expectMutations: f.mutations}
}

type fixedIterator struct {
	f               *FixedPersistentBlockBuffer
	next            int64
	lastReturned    int64
	haveLast        bool
	expectMutations int64
}

func (it *fixedIterator) checkMod() error {
	if it.expectMutations != it.f.mutations {
		return &ConcurrentModificationError{Op: "IterateBlockIds"}
	}
	return nil
}

func (it *fixedIterator) HasNext() bool {
	if it.f.mutations != it.expectMutations {
		return false
	}
	for {
		off, _ := it.f.bitOffset(it.next)
		if off >= it.f.buf.Capacity() {
			return false
		}
		set, err := it.f.bitSet(it.next)
		if err != nil {
			return false
		}
		if set {
			return true
		}
		it.next++
	}
}

func (it *fixedIterator) Next() (int64, error) {
	if err := it.checkMod(); err != nil {
		return 0, err
	}
	if !it.HasNext() {
		return 0, &OutOfRangeError{Op: "Next"}
	}
	id := it.next
	it.next++
	it.lastReturned = id
	it.haveLast = true
	return id, nil
}

func (it *fixedIterator) Remove() error {
	if err := it.checkMod(); err != nil {
		return err
	}
	if !it.haveLast {
		return &PermError{Op: "Remove"}
	}
	if err := it.f.Deallocate(it.lastReturned); err != nil {
		return err
	}
	it.expectMutations = it.f.mutations
	it.haveLast = false
	return nil
}

// PermError reports an iterator operation attempted out of sequence
// (Remove before Next).
type PermError struct{ Op string }

func (e *PermError) Error() string { return e.Op + ": not permitted" }
