// Package list implements PersistentLinkedList[T], a persistent
// doubly-linked deque over a block.PersistentBlockBuffer, with
// crash-consistent two-barrier add/remove operations and an at-open
// recovery procedure that repairs any inconsistency left by a crash
// mid-operation (spec.md §4.6).
//
// Grounded in the structural style of dbm.DB/dbm.Array
// (_examples/cznic-exp/dbm/dbm.go, slice.go): a struct wrapping the
// layer below plus cached scalar state, here head/tail/size instead of
// dbm's cached B-Tree roots.
package list

import (
	"encoding/binary"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/serial"
)

const (
	magic         = "PLL\n"
	version       = int32(3)
	headerSize    = 24 // magic(4) + version(4) + head(8) + tail(8)
	entryHeadSize = 24 // next(8) + prev(8) + dataSize(8)

	// endPtr is the sentinel "end of chain" value for next/prev/head/tail.
	endPtr = int64(-2)

	metaHeadOffset = 8
	metaTailOffset = 16
)

// PersistentLinkedList is a crash-consistent doubly-linked deque of
// values of type T, stored entry-per-block in a
// block.PersistentBlockBuffer. Not safe for concurrent use; see the
// module-wide single-handle concurrency model.
type PersistentLinkedList[T any] struct {
	blocks block.PersistentBlockBuffer
	codec  serial.Codec[T]

	head, tail int64
	size       int64
	mutations  int64
}

// Open opens or initializes a PersistentLinkedList backed by blocks,
// using codec to serialize element values. A block buffer with no
// allocated blocks is initialized fresh (spec.md §4.6's "header
// block"); otherwise the recovery procedure runs and repairs are
// applied and logged.
func Open[T any](blocks block.PersistentBlockBuffer, codec serial.Codec[T]) (*PersistentLinkedList[T], error) {
	if blocks.IterateBlockIds().HasNext() {
		return recoverList[T](blocks, codec, true)
	}
	return createList[T](blocks, codec)
}

// OpenReadOnly opens an existing PersistentLinkedList without applying
// any repair: an inconsistency that Open would silently fix instead
// surfaces as this package's *CorruptionError here (spec.md
// §4.6's "read-only open ... reports errors instead of repairing").
func OpenReadOnly[T any](blocks block.PersistentBlockBuffer, codec serial.Codec[T]) (*PersistentLinkedList[T], error) {
	if !blocks.IterateBlockIds().HasNext() {
		return nil, &CorruptionError{Reason: "list has not been initialized"}
	}
	return recoverList[T](blocks, codec, false)
}

func createList[T any](blocks block.PersistentBlockBuffer, codec serial.Codec[T]) (*PersistentLinkedList[T], error) {
	id, err := blocks.Allocate(headerSize)
	if err != nil {
		return nil, err
	}
	if id != 0 {
		return nil, &CorruptionError{Reason: "meta block did not allocate as block 0"}
	}
	var hdr [headerSize]byte
	copy(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(version))
	binary.BigEndian.PutUint64(hdr[metaHeadOffset:metaHeadOffset+8], uint64(endPtr))
	binary.BigEndian.PutUint64(hdr[metaTailOffset:metaTailOffset+8], uint64(endPtr))
	if err := blocks.WriteAt(0, 0, hdr[:]); err != nil {
		return nil, err
	}
	if err := blocks.Barrier(true); err != nil {
		return nil, err
	}
	return &PersistentLinkedList[T]{blocks: blocks, codec: codec, head: endPtr, tail: endPtr}, nil
}

// Size returns the cached element count, maintained incrementally by
// every add/remove and recomputed by recovery's walk.
func (l *PersistentLinkedList[T]) Size() int64 { return l.size }

func (l *PersistentLinkedList[T]) writeMeta() error {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(l.head))
	binary.BigEndian.PutUint64(b[8:16], uint64(l.tail))
	return l.blocks.WriteAt(0, metaHeadOffset, b[:])
}

func readEntryHeader(blocks block.PersistentBlockBuffer, id int64) (next, prev, dataSize int64, err error) {
	var b [entryHeadSize]byte
	if err = blocks.ReadAt(id, 0, b[:]); err != nil {
		return 0, 0, 0, err
	}
	next = int64(binary.BigEndian.Uint64(b[0:8]))
	prev = int64(binary.BigEndian.Uint64(b[8:16]))
	dataSize = int64(binary.BigEndian.Uint64(b[16:24]))
	return next, prev, dataSize, nil
}

func writeEntryHeader(blocks block.PersistentBlockBuffer, id, next, prev, dataSize int64) error {
	var b [entryHeadSize]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(next))
	binary.BigEndian.PutUint64(b[8:16], uint64(prev))
	binary.BigEndian.PutUint64(b[16:24], uint64(dataSize))
	return blocks.WriteAt(id, 0, b[:])
}

func writeEntryNext(blocks block.PersistentBlockBuffer, id, next int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(next))
	return blocks.WriteAt(id, 0, b[:])
}

func writeEntryPrev(blocks block.PersistentBlockBuffer, id, prev int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(prev))
	return blocks.WriteAt(id, 8, b[:])
}

// insertBetween implements spec.md §4.6's Add operation: allocate,
// fully write the new entry, barrier(false), rewire neighbors,
// barrier(true). prevID/nextID are END_PTR for an end-of-chain insert.
func (l *PersistentLinkedList[T]) insertBetween(prevID, nextID int64, v T, null bool) error {
	dataSize := int64(-1)
	if !null {
		dataSize = l.codec.Size(v)
	}
	payload := dataSize
	if payload < 0 {
		payload = 0
	}
	id, err := l.blocks.Allocate(entryHeadSize + payload)
	if err != nil {
		return err
	}
	if err := writeEntryHeader(l.blocks, id, nextID, prevID, dataSize); err != nil {
		return err
	}
	if !null {
		w, err := l.blocks.OutputStream(id, entryHeadSize, payload)
		if err != nil {
			return err
		}
		if err := l.codec.Encode(v, w); err != nil {
			return err
		}
	}
	if err := l.blocks.Barrier(false); err != nil {
		return err
	}
	if prevID == endPtr {
		l.head = id
	} else if err := writeEntryNext(l.blocks, prevID, id); err != nil {
		return err
	}
	if nextID == endPtr {
		l.tail = id
	} else if err := writeEntryPrev(l.blocks, nextID, id); err != nil {
		return err
	}
	if err := l.writeMeta(); err != nil {
		return err
	}
	if err := l.blocks.Barrier(true); err != nil {
		return err
	}
	l.size++
	l.mutations++
	return nil
}

// removeEntry implements spec.md §4.6's Remove operation.
func (l *PersistentLinkedList[T]) removeEntry(id int64) error {
	next, prev, _, err := readEntryHeader(l.blocks, id)
	if err != nil {
		return err
	}
	if prev == endPtr {
		l.head = next
	} else if err := writeEntryNext(l.blocks, prev, next); err != nil {
		return err
	}
	if next == endPtr {
		l.tail = prev
	} else if err := writeEntryPrev(l.blocks, next, prev); err != nil {
		return err
	}
	if err := l.writeMeta(); err != nil {
		return err
	}
	if err := l.blocks.Barrier(false); err != nil {
		return err
	}
	if err := l.blocks.Deallocate(id); err != nil {
		return err
	}
	if err := l.blocks.Barrier(true); err != nil {
		return err
	}
	l.size--
	l.mutations++
	return nil
}

// AddFirst inserts v at the head of the list.
func (l *PersistentLinkedList[T]) AddFirst(v T) error { return l.insertBetween(endPtr, l.head, v, false) }

// AddLast inserts v at the tail of the list.
func (l *PersistentLinkedList[T]) AddLast(v T) error { return l.insertBetween(l.tail, endPtr, v, false) }

// AddNullFirst inserts a null element at the head of the list.
func (l *PersistentLinkedList[T]) AddNullFirst() error {
	var zero T
	return l.insertBetween(endPtr, l.head, zero, true)
}

// AddNullLast inserts a null element at the tail of the list.
func (l *PersistentLinkedList[T]) AddNullLast() error {
	var zero T
	return l.insertBetween(l.tail, endPtr, zero, true)
}

// nodeAt walks to the block id currently at index, from head if
// index < size/2, else backward from tail (spec.md §4.6).
func (l *PersistentLinkedList[T]) nodeAt(index int64) (int64, error) {
	if index < 0 || index >= l.size {
		return 0, &OutOfRangeError{Op: "nodeAt", Index: index, Size: l.size}
	}
	if index < l.size/2 {
		id := l.head
		for i := int64(0); i < index; i++ {
			next, _, _, err := readEntryHeader(l.blocks, id)
			if err != nil {
				return 0, err
			}
			id = next
		}
		return id, nil
	}
	id := l.tail
	for i := l.size - 1; i > index; i-- {
		_, prev, _, err := readEntryHeader(l.blocks, id)
		if err != nil {
			return 0, err
		}
		id = prev
	}
	return id, nil
}

// Add inserts v so that it occupies position index; index == Size()
// is equivalent to AddLast.
func (l *PersistentLinkedList[T]) Add(index int64, v T) error {
	if index == l.size {
		return l.AddLast(v)
	}
	target, err := l.nodeAt(index)
	if err != nil {
		return err
	}
	_, prev, _, err := readEntryHeader(l.blocks, target)
	if err != nil {
		return err
	}
	return l.insertBetween(prev, target, v, false)
}

// RemoveFirst removes and discards the head element.
func (l *PersistentLinkedList[T]) RemoveFirst() error {
	if l.size == 0 {
		return &OutOfRangeError{Op: "RemoveFirst", Index: 0, Size: 0}
	}
	return l.removeEntry(l.head)
}

// RemoveLast removes and discards the tail element.
func (l *PersistentLinkedList[T]) RemoveLast() error {
	if l.size == 0 {
		return &OutOfRangeError{Op: "RemoveLast", Index: 0, Size: 0}
	}
	return l.removeEntry(l.tail)
}

// RemoveAt removes the element currently at index.
func (l *PersistentLinkedList[T]) RemoveAt(index int64) error {
	id, err := l.nodeAt(index)
	if err != nil {
		return err
	}
	return l.removeEntry(id)
}

// Get returns the element at index. ok is false if that element is
// null (v is then the zero value of T).
func (l *PersistentLinkedList[T]) Get(index int64) (v T, ok bool, err error) {
	id, err := l.nodeAt(index)
	if err != nil {
		return v, false, err
	}
	return l.readEntry(id)
}

func (l *PersistentLinkedList[T]) readEntry(id int64) (v T, ok bool, err error) {
	_, _, dataSize, err := readEntryHeader(l.blocks, id)
	if err != nil {
		return v, false, err
	}
	if dataSize < 0 {
		return v, false, nil
	}
	r, err := l.blocks.InputStream(id, entryHeadSize, dataSize)
	if err != nil {
		return v, false, err
	}
	v, err = l.codec.Decode(r)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Set replaces the element at index with v. Implemented as a remove
// followed by an insert (spec.md §4.6's Open Question resolution: not
// atomic, an interrupted Set degrades to either "removed" or
// "removed + inserted").
func (l *PersistentLinkedList[T]) Set(index int64, v T) error {
	id, err := l.nodeAt(index)
	if err != nil {
		return err
	}
	_, prev, _, err := readEntryHeader(l.blocks, id)
	if err != nil {
		return err
	}
	if err := l.removeEntry(id); err != nil {
		return err
	}
	if prev == endPtr {
		return l.AddFirst(v)
	}
	// Re-resolve prev's current next (the node that followed id before
	// removal now follows prev directly, or END_PTR if id was the tail).
	next, _, _, err := readEntryHeader(l.blocks, prev)
	if err != nil {
		return err
	}
	return l.insertBetween(prev, next, v, false)
}

// Barrier forwards to the underlying block buffer.
func (l *PersistentLinkedList[T]) Barrier(force bool) error { return l.blocks.Barrier(force) }

// Close forwards to the underlying block buffer.
func (l *PersistentLinkedList[T]) Close() error { return l.blocks.Close() }

// CorruptionError reports an on-open invariant violation outside the
// single-operation recovery envelope (spec.md §4.6/§7).
type CorruptionError struct{ Reason string }

func (e *CorruptionError) Error() string { return "list: corrupt: " + e.Reason }

// OutOfRangeError reports an index outside [0, Size()).
type OutOfRangeError struct {
	Op    string
	Index int64
	Size  int64
}

func (e *OutOfRangeError) Error() string {
	return e.Op + ": index out of range"
}
