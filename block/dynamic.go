package block

import (
	"math/bits"

	"github.com/ao-apps/ao-persistence/block/internal/orderedset"
	"github.com/ao-apps/ao-persistence/buffer"
)

const (
	dynHeaderAllocatedBit = 1 << 7
	dynHeaderKMask        = 0x3F
	// dynMaxK is the non-coalescing ceiling per spec.md §9's open
	// question resolution: size class 63 never merges with a buddy,
	// since 2^64 overflows the id/offset space.
	dynMaxK = 63
)

// DynamicPersistentBlockBuffer is a power-of-two buddy allocator over a
// buffer.PersistentBuffer (spec.md §4.5). Every block is preceded by a
// one-byte header: bits 0-5 carry the size-class exponent k (block size
// 2^k bytes including the header), bit 7 is the allocated flag.
type DynamicPersistentBlockBuffer struct {
	buf       buffer.PersistentBuffer
	freeMap   [64]*orderedset.Set
	page      int64
	mutations int64
}

// OpenDynamicPersistentBlockBuffer opens buf as a dynamic block
// allocator, building the free-space map by a single linear scan
// (openFreeSpaceMap) if buf already has content, or laying out a fresh
// one-page free region sized cfg.PageSize otherwise.
func OpenDynamicPersistentBlockBuffer(buf buffer.PersistentBuffer, cfg Config) (*DynamicPersistentBlockBuffer, error) {
	cfg = cfg.normalized()
	d := &DynamicPersistentBlockBuffer{buf: buf, page: cfg.PageSize}
	for i := range d.freeMap {
		d.freeMap[i] = orderedset.New()
	}
	if buf.Capacity() == 0 {
		if err := buf.SetCapacity(d.page); err != nil {
			return nil, err
		}
		if err := d.populateFreeRegion(0, d.page); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err := d.openFreeSpaceMap(); err != nil {
		return nil, err
	}
	return d, nil
}

// openFreeSpaceMap scans the buffer from offset 0, recording every
// unallocated block into its size class. If the scan finds a header
// whose declared size would run past the current capacity, the buffer
// was truncated mid-grow; capacity is trimmed back to the last full
// block boundary, matching spec.md §4.5's auto-extend-on-open note
// (applied here as auto-trim, the symmetric repair).
func (d *DynamicPersistentBlockBuffer) openFreeSpaceMap() error {
	pos := int64(0)
	capacity := d.buf.Capacity()
	for pos < capacity {
		hdr, err := d.buf.GetByte(pos)
		if err != nil {
			return err
		}
		k := int(hdr & dynHeaderKMask)
		size := int64(1) << uint(k)
		if pos+size > capacity {
			if err := d.buf.SetCapacity(pos); err != nil {
				return err
			}
			break
		}
		if hdr&dynHeaderAllocatedBit == 0 {
			d.insertFreeLeftwardOnly(pos, k)
		}
		pos += size
	}
	return nil
}

// insertFreeLeftwardOnly records a free block found during the startup
// scan, coalescing with its buddy only when that buddy lies to the left
// (already scanned and already in the free map) — spec.md §4.5's
// "only leftward during startup scan" restriction, needed because the
// scan hasn't yet examined blocks to the right.
func (d *DynamicPersistentBlockBuffer) insertFreeLeftwardOnly(pos int64, k int) {
	for k < dynMaxK {
		buddy := pos ^ (int64(1) << uint(k))
		if buddy >= pos || !d.freeMap[k].Contains(buddy) {
			break
		}
		d.freeMap[k].Remove(buddy)
		pos = buddy
		k++
	}
	_ = d.writeHeader(pos, k, false)
	d.freeMap[k].Insert(pos)
}

func (d *DynamicPersistentBlockBuffer) writeHeader(pos int64, k int, allocated bool) error {
	h := byte(k & dynHeaderKMask)
	if allocated {
		h |= dynHeaderAllocatedBit
	}
	return d.buf.PutByte(pos, h)
}

// Allocate implements spec.md §4.5's Allocate(minimumSize).
func (d *DynamicPersistentBlockBuffer) Allocate(minSize int64) (int64, error) {
	if minSize < 0 {
		return 0, &OutOfRangeError{Op: "Allocate"}
	}
	k := bits.Len64(uint64(minSize))
	if k > dynMaxK {
		return 0, &OutOfRangeError{Op: "Allocate"}
	}
	hasFree := false
	for j := k; j <= dynMaxK; j++ {
		if d.freeMap[j].Len() > 0 {
			hasFree = true
			break
		}
	}
	if !hasFree {
		if err := d.growForK(k); err != nil {
			return 0, err
		}
	}
	return d.allocateAtLeast(k)
}

func (d *DynamicPersistentBlockBuffer) allocateAtLeast(k int) (int64, error) {
	if addr, ok := d.freeMap[k].PopMin(); ok {
		if err := d.writeHeader(addr, k, true); err != nil {
			return 0, err
		}
		d.mutations++
		return addr, nil
	}
	if k == dynMaxK {
		if err := d.growForK(k); err != nil {
			return 0, err
		}
		if addr, ok := d.freeMap[k].PopMin(); ok {
			if err := d.writeHeader(addr, k, true); err != nil {
				return 0, err
			}
			d.mutations++
			return addr, nil
		}
		return 0, &OutOfRangeError{Op: "Allocate"}
	}
	parent, err := d.allocateAtLeast(k + 1)
	if err != nil {
		return 0, err
	}
	right := parent + (int64(1) << uint(k))
	if err := d.writeHeader(right, k, false); err != nil {
		return 0, err
	}
	// A single barrier between writing the right child's header and the
	// parent's new (smaller) header: recovery must never observe an
	// intermediate state where neither or only one child looks sized k.
	if err := d.buf.Barrier(false); err != nil {
		return 0, err
	}
	if err := d.writeHeader(parent, k, true); err != nil {
		return 0, err
	}
	d.freeMap[k].Insert(right)
	d.mutations++
	return parent, nil
}

// growForK extends the file when no free block of size >= 2^k is
// available: aligns a new block start to 2^k, grows by at least 25% of
// prior capacity and to a 4 KiB boundary, then populates the newly
// exposed region with the largest power-of-two free pieces that fit.
func (d *DynamicPersistentBlockBuffer) growForK(k int) error {
	prior := d.buf.Capacity()
	size := int64(1) << uint(k)
	start := roundUp(prior, size)
	target := prior + prior/4
	if target < start+size {
		target = start + size
	}
	newCap := roundUp(target, d.page)
	for newCap < start+size {
		newCap += d.page
	}
	if err := d.buf.SetCapacity(newCap); err != nil {
		return err
	}
	return d.populateFreeRegion(prior, newCap-prior)
}

// populateFreeRegion decomposes [pos, pos+length) into the largest
// aligned power-of-two free blocks that fit, recording each.
func (d *DynamicPersistentBlockBuffer) populateFreeRegion(pos, length int64) error {
	for length > 0 {
		k := largestAlignedPow2(pos, length)
		if err := d.writeHeader(pos, k, false); err != nil {
			return err
		}
		d.freeMap[k].Insert(pos)
		sz := int64(1) << uint(k)
		pos += sz
		length -= sz
	}
	return nil
}

func largestAlignedPow2(pos, length int64) int {
	k := 0
	for k < dynMaxK {
		next := k + 1
		sz := int64(1) << uint(next)
		if sz > length || pos%sz != 0 {
			break
		}
		k = next
	}
	return k
}

// Deallocate implements spec.md §4.5's Deallocate(id): clear the
// allocated bit, then coalesce with a free buddy of the same size class
// while one exists (and the merged block stays within dynMaxK).
func (d *DynamicPersistentBlockBuffer) Deallocate(id int64) error {
	hdr, err := d.buf.GetByte(id)
	if err != nil {
		return err
	}
	if hdr&dynHeaderAllocatedBit == 0 {
		panic(AlreadyDeallocatedPanic{ID: id})
	}
	k := int(hdr & dynHeaderKMask)
	pos := id
	for k < dynMaxK {
		buddy := pos ^ (int64(1) << uint(k))
		if buddy+(int64(1)<<uint(k)) > d.buf.Capacity() {
			break
		}
		bh, err := d.buf.GetByte(buddy)
		if err != nil {
			return err
		}
		if bh&dynHeaderAllocatedBit != 0 || int(bh&dynHeaderKMask) != k {
			break
		}
		if !d.freeMap[k].Remove(buddy) {
			break
		}
		if buddy < pos {
			pos = buddy
		}
		k++
	}
	if err := d.writeHeader(pos, k, false); err != nil {
		return err
	}
	d.freeMap[k].Insert(pos)
	d.mutations++
	return nil
}

func (d *DynamicPersistentBlockBuffer) BlockCapacity(id int64) (int64, error) {
	hdr, err := d.buf.GetByte(id)
	if err != nil {
		return 0, err
	}
	if hdr&dynHeaderAllocatedBit == 0 {
		return 0, &NotAllocatedError{Op: "BlockCapacity", ID: id}
	}
	k := int(hdr & dynHeaderKMask)
	return (int64(1) << uint(k)) - 1, nil
}

func (d *DynamicPersistentBlockBuffer) checkRange(op string, id, off int64, n int) error {
	capacity, err := d.BlockCapacity(id)
	if err != nil {
		return err
	}
	if off < 0 || off+int64(n) > capacity {
		return &OutOfRangeError{Op: op, ID: id, Off: off}
	}
	return nil
}

func (d *DynamicPersistentBlockBuffer) ReadAt(id, off int64, b []byte) error {
	if err := d.checkRange("ReadAt", id, off, len(b)); err != nil {
		return err
	}
	return d.buf.Get(id+1+off, b)
}

func (d *DynamicPersistentBlockBuffer) WriteAt(id, off int64, b []byte) error {
	if err := d.checkRange("WriteAt", id, off, len(b)); err != nil {
		return err
	}
	return d.buf.Put(id+1+off, b)
}

func (d *DynamicPersistentBlockBuffer) InputStream(id, off, length int64) (*buffer.InputStream, error) {
	if err := d.checkRange("InputStream", id, off, int(length)); err != nil {
		return nil, err
	}
	return d.buf.InputStream(id+1+off, length)
}

func (d *DynamicPersistentBlockBuffer) OutputStream(id, off, length int64) (*buffer.OutputStream, error) {
	if err := d.checkRange("OutputStream", id, off, int(length)); err != nil {
		return nil, err
	}
	return d.buf.OutputStream(id+1+off, length)
}

func (d *DynamicPersistentBlockBuffer) Barrier(force bool) error { return d.buf.Barrier(force) }
func (d *DynamicPersistentBlockBuffer) Close() error             { return d.buf.Close() }

// IterateBlockIds returns a forward linear-scan iterator.
func (d *DynamicPersistentBlockBuffer) IterateBlockIds() BlockIterator {
	return &dynamicIterator{d: d, expectMutations: d.mutations}
}

type dynamicIterator struct {
	d               *DynamicPersistentBlockBuffer
	pos             int64
	lastID          int64
	haveLast        bool
	expectMutations int64
}

func (it *dynamicIterator) checkMod() error {
	if it.expectMutations != it.d.mutations {
		return &ConcurrentModificationError{Op: "IterateBlockIds"}
	}
	return nil
}

func (it *dynamicIterator) HasNext() bool {
	if it.d.mutations != it.expectMutations {
		return false
	}
	pos := it.pos
	for pos < it.d.buf.Capacity() {
		h, err := it.d.buf.GetByte(pos)
		if err != nil {
			return false
		}
		if h&dynHeaderAllocatedBit != 0 {
			return true
		}
		pos += int64(1) << uint(h&dynHeaderKMask)
	}
	return false
}

func (it *dynamicIterator) Next() (int64, error) {
	if err := it.checkMod(); err != nil {
		return 0, err
	}
	for it.pos < it.d.buf.Capacity() {
		h, err := it.d.buf.GetByte(it.pos)
		if err != nil {
			return 0, err
		}
		id := it.pos
		it.pos += int64(1) << uint(h&dynHeaderKMask)
		if h&dynHeaderAllocatedBit != 0 {
			it.lastID = id
			it.haveLast = true
			return id, nil
		}
	}
	return 0, &OutOfRangeError{Op: "Next"}
}

func (it *dynamicIterator) Remove() error {
	if err := it.checkMod(); err != nil {
		return err
	}
	if !it.haveLast {
		return &PermError{Op: "Remove"}
	}
	if err := it.d.Deallocate(it.lastID); err != nil {
		return err
	}
	it.expectMutations = it.d.mutations
	it.haveLast = false
	return nil
}

var (
	_ PersistentBlockBuffer = (*DynamicPersistentBlockBuffer)(nil)
	_ PersistentBlockBuffer = (*FixedPersistentBlockBuffer)(nil)
)
