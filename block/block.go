// Package block implements the block-allocator layer: variable- or
// fixed-size block allocation over a buffer.PersistentBuffer, with O(1)
// iteration over live blocks and recovery-friendly on-disk layouts.
package block

import (
	"fmt"

	"github.com/ao-apps/ao-persistence/buffer"
)

// PersistentBlockBuffer allocates, deallocates, and addresses
// fixed-offset byte ranges ("blocks") inside a buffer.PersistentBuffer.
// A block's id is also its starting byte offset in the backing buffer.
type PersistentBlockBuffer interface {
	// Allocate reserves a block able to hold at least minSize payload
	// bytes and returns its id. FixedPersistentBlockBuffer ignores
	// minSize beyond validating it fits the fixed block size.
	Allocate(minSize int64) (id int64, err error)

	// Deallocate releases the block at id. Deallocating a block whose
	// allocation bit is already clear is a programmer error: it panics
	// rather than returning a recoverable error (spec's "fatal assertion
	// category", distinct from a runtime I/O fault).
	Deallocate(id int64) error

	// BlockCapacity returns the payload capacity in bytes of the block
	// at id.
	BlockCapacity(id int64) (int64, error)

	// ReadAt reads b from the block's payload at off.
	ReadAt(id, off int64, b []byte) error

	// WriteAt writes b into the block's payload at off.
	WriteAt(id, off int64, b []byte) error

	// InputStream returns a bounded read cursor over the block's
	// payload range [off, off+length).
	InputStream(id, off, length int64) (*buffer.InputStream, error)

	// OutputStream returns a bounded write cursor over the block's
	// payload range [off, off+length).
	OutputStream(id, off, length int64) (*buffer.OutputStream, error)

	// IterateBlockIds returns an iterator yielding every live block id
	// exactly once, the first allocated block (id 0) first.
	IterateBlockIds() BlockIterator

	// Barrier forwards to the underlying buffer's Barrier.
	Barrier(force bool) error

	// Close closes the underlying buffer.
	Close() error
}

// BlockIterator walks the live blocks of a PersistentBlockBuffer.
type BlockIterator interface {
	// HasNext reports whether Next would return another block.
	HasNext() bool
	// Next returns the next live block id.
	Next() (int64, error)
	// Remove deallocates the block most recently returned by Next.
	Remove() error
}

// NotAllocatedError reports an access against a block id whose
// allocation bit is clear, or a block-relative range exceeding the
// block's capacity.
type NotAllocatedError struct {
	Op string
	ID int64
}

func (e *NotAllocatedError) Error() string {
	return fmt.Sprintf("%s: block %d is not allocated", e.Op, e.ID)
}

// OutOfRangeError reports a ReadAt/WriteAt whose [off, off+len(b))
// range exceeds the block's payload capacity.
type OutOfRangeError struct {
	Op  string
	ID  int64
	Off int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s: block %d offset %d out of range", e.Op, e.ID, e.Off)
}

// ConcurrentModificationError reports a BlockIterator detecting a
// structural mutation made through a path other than its own Remove.
type ConcurrentModificationError struct {
	Op string
}

func (e *ConcurrentModificationError) Error() string {
	return e.Op + ": concurrent modification detected"
}

// AlreadyDeallocatedPanic is the value panic()'d by Deallocate when the
// target id's allocation bit is already clear.
type AlreadyDeallocatedPanic struct {
	ID int64
}

func (p AlreadyDeallocatedPanic) String() string {
	return fmt.Sprintf("block %d already deallocated", p.ID)
}
