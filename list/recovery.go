package list

import (
	"encoding/binary"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/internal/xlog"
	"github.com/ao-apps/ao-persistence/serial"
)

// recoverList implements spec.md §4.6's numbered recovery sequence.
// When repair is false, any step that would otherwise mutate state
// instead returns *CorruptionError (§4.6's read-only-open behavior).
func recoverList[T any](blocks block.PersistentBlockBuffer, codec serial.Codec[T], repair bool) (*PersistentLinkedList[T], error) {
	it := blocks.IterateBlockIds()
	if !it.HasNext() {
		return nil, &CorruptionError{Reason: "list has not been initialized"}
	}

	// Step 1: meta block must be the first block buffer id.
	metaID, err := it.Next()
	if err != nil {
		return nil, err
	}
	if metaID != 0 {
		return nil, &CorruptionError{Reason: "meta block is not block 0"}
	}
	var hdr [headerSize]byte
	if err := blocks.ReadAt(0, 0, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != magic {
		return nil, &CorruptionError{Reason: "bad magic"}
	}
	if v := int32(binary.BigEndian.Uint32(hdr[4:8])); v != version {
		return nil, &CorruptionError{Reason: "unsupported version"}
	}
	head := int64(binary.BigEndian.Uint64(hdr[metaHeadOffset : metaHeadOffset+8]))
	tail := int64(binary.BigEndian.Uint64(hdr[metaTailOffset : metaTailOffset+8]))
	origHead, origTail := head, tail

	// Step 2: collect all other allocated block ids into a seen-bit map.
	seen := make(map[int64]bool)
	for it.HasNext() {
		id, err := it.Next()
		if err != nil {
			return nil, err
		}
		seen[id] = false
	}
	allocated := func(id int64) bool {
		if id == 0 {
			return true
		}
		_, ok := seen[id]
		return ok
	}

	// Step 3: head and tail must each be END_PTR or an allocated block.
	if head != endPtr && !allocated(head) {
		return nil, &CorruptionError{Reason: "head points to an unallocated block"}
	}
	if tail != endPtr && !allocated(tail) {
		return nil, &CorruptionError{Reason: "tail points to an unallocated block"}
	}

	// Step 4: exactly one of head/tail is END_PTR -> the other must be a
	// singleton; set the null side equal to the non-null side.
	if (head == endPtr) != (tail == endPtr) {
		if !repair {
			return nil, &CorruptionError{Reason: "head/tail disagree on emptiness"}
		}
		nonNull := head
		if nonNull == endPtr {
			nonNull = tail
		}
		next, prev, _, err := readEntryHeader(blocks, nonNull)
		if err != nil {
			return nil, err
		}
		if next != endPtr || prev != endPtr {
			return nil, &CorruptionError{Reason: "lone non-null endpoint is not a singleton"}
		}
		head, tail = nonNull, nonNull
	}

	// Step 5: symmetric head/tail repair against a dangling outward pointer.
	if head != endPtr {
		_, prev, _, err := readEntryHeader(blocks, head)
		if err != nil {
			return nil, err
		}
		if prev != endPtr {
			if !repair {
				return nil, &CorruptionError{Reason: "head.prev is not END_PTR"}
			}
			if !allocated(prev) {
				return nil, &CorruptionError{Reason: "head.prev points to an unallocated block"}
			}
			cnext, cprev, _, err := readEntryHeader(blocks, prev)
			if err != nil {
				return nil, err
			}
			if cprev != endPtr || cnext != head {
				return nil, &CorruptionError{Reason: "head.prev candidate is not consistent"}
			}
			head = prev
		}
	}
	if tail != endPtr {
		next, _, _, err := readEntryHeader(blocks, tail)
		if err != nil {
			return nil, err
		}
		if next != endPtr {
			if !repair {
				return nil, &CorruptionError{Reason: "tail.next is not END_PTR"}
			}
			if !allocated(next) {
				return nil, &CorruptionError{Reason: "tail.next points to an unallocated block"}
			}
			cnext, cprev, _, err := readEntryHeader(blocks, next)
			if err != nil {
				return nil, err
			}
			if cnext != endPtr || cprev != tail {
				return nil, &CorruptionError{Reason: "tail.next candidate is not consistent"}
			}
			tail = next
		}
	}

	// Step 6: walk head -> tail, marking seen and verifying prev.next = self.
	var size int64
	cur := head
	prevExpected := endPtr
	for cur != endPtr {
		wasSeen, ok := seen[cur]
		if !ok {
			return nil, &CorruptionError{Reason: "chain references an unallocated block"}
		}
		if wasSeen {
			return nil, &CorruptionError{Reason: "cycle detected in list chain"}
		}
		next, prev, _, err := readEntryHeader(blocks, cur)
		if err != nil {
			return nil, err
		}
		if prev != prevExpected {
			return nil, &CorruptionError{Reason: "broken prev link in chain walk"}
		}
		seen[cur] = true
		size++
		if next == endPtr {
			if cur != tail {
				if !repair {
					return nil, &CorruptionError{Reason: "chain end disagrees with tail"}
				}
				tail = cur
			}
			break
		}
		prevExpected = cur
		cur = next
	}

	// Step 7: count allocated-but-unseen blocks.
	var orphan int64 = -1
	var orphanCount int
	for id, wasSeen := range seen {
		if !wasSeen {
			orphanCount++
			orphan = id
		}
	}
	if orphanCount >= 2 {
		return nil, &CorruptionError{Reason: "multiple orphaned blocks outside the single-operation recovery envelope"}
	}
	if orphanCount == 1 {
		if !repair {
			return nil, &CorruptionError{Reason: "one orphaned block present"}
		}
		xlog.Printf("list: deallocating orphaned block %d left over from an interrupted add/remove", orphan)
		if err := blocks.Deallocate(orphan); err != nil {
			return nil, err
		}
	}

	l := &PersistentLinkedList[T]{blocks: blocks, codec: codec, head: head, tail: tail, size: size}

	// Step 8 stores the walked count as cached size (done above); persist
	// any repaired head/tail back to the meta block.
	if repair && (head != origHead || tail != origTail) {
		xlog.Printf("list: repairing head/tail pointers (head=%d tail=%d)", head, tail)
		if err := l.writeMeta(); err != nil {
			return nil, err
		}
		if err := blocks.Barrier(true); err != nil {
			return nil, err
		}
	}
	return l, nil
}
