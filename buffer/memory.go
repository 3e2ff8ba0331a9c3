package buffer

import "encoding/binary"

// memPageBits controls the page size used internally by MemoryBuffer's
// sparse backing map: 1<<memPageBits bytes per page.
const memPageBits = 16
const memPageSize = 1 << memPageBits
const memPageMask = memPageSize - 1

// MemoryBuffer is an in-memory PersistentBuffer: a sparse page table of
// byte slices, allocated lazily on first write to a page. It never honors
// ProtectionLevel Barrier/Force durability (there is no backing file), so
// it is only valid at protection level None, and is intended for
// scratch/tmp data and as the reference buffer in fault-injection tests.
//
// Grounded on lldb.MemFiler's page-map design.
type MemoryBuffer struct {
	name     string
	pages    map[int64][]byte
	capacity int64
	closed   bool
}

// NewMemoryBuffer returns an empty MemoryBuffer.
func NewMemoryBuffer(name string) *MemoryBuffer {
	return &MemoryBuffer{name: name, pages: make(map[int64][]byte)}
}

func (b *MemoryBuffer) Name() string               { return b.name }
func (b *MemoryBuffer) Capacity() int64             { return b.capacity }
func (b *MemoryBuffer) Protection() ProtectionLevel { return None }

func (b *MemoryBuffer) page(i int64) []byte {
	p, ok := b.pages[i]
	if !ok {
		p = make([]byte, memPageSize)
		b.pages[i] = p
	}
	return p
}

func (b *MemoryBuffer) SetCapacity(n int64) error {
	if b.closed {
		return &ClosedError{Op: "SetCapacity"}
	}
	if n < 0 {
		return &InvalidError{Op: "SetCapacity", Value: n}
	}
	if n < b.capacity {
		// Drop pages entirely beyond the new capacity.
		for i := range b.pages {
			if i<<memPageBits >= n {
				delete(b.pages, i)
			}
		}
	}
	b.capacity = n
	return nil
}

func (b *MemoryBuffer) Get(pos int64, out []byte) error {
	if b.closed {
		return &ClosedError{Op: "Get"}
	}
	if err := checkBounds("Get", pos, int64(len(out)), b.capacity); err != nil {
		return err
	}
	b.readAt(pos, out)
	return nil
}

func (b *MemoryBuffer) GetSome(pos int64, out []byte) (int, error) {
	if b.closed {
		return 0, &ClosedError{Op: "GetSome"}
	}
	avail := b.capacity - pos
	if avail < 0 {
		avail = 0
	}
	n := int64(len(out))
	if n > avail {
		n = avail
	}
	b.readAt(pos, out[:n])
	return int(n), nil
}

func (b *MemoryBuffer) readAt(pos int64, out []byte) {
	for len(out) > 0 {
		pageIdx := pos >> memPageBits
		pageOff := pos & memPageMask
		n := copy(out, b.page(pageIdx)[pageOff:])
		out = out[n:]
		pos += int64(n)
	}
}

func (b *MemoryBuffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *MemoryBuffer) GetByte(pos int64) (byte, error) {
	var out [1]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *MemoryBuffer) GetI32(pos int64) (int32, error) {
	var out [4]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(out[:])), nil
}

func (b *MemoryBuffer) GetI64(pos int64) (int64, error) {
	var out [8]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(out[:])), nil
}

func (b *MemoryBuffer) EnsureZeros(pos, length int64) error {
	if err := checkWritable("EnsureZeros", b.Protection()); err != nil {
		return err
	}
	if err := checkBounds("EnsureZeros", pos, length, b.capacity); err != nil {
		return err
	}
	buf := make([]byte, length)
	b.readAt(pos, buf)
	for _, c := range buf {
		if c != 0 {
			return b.writeAt(pos, make([]byte, length))
		}
	}
	return nil
}

func (b *MemoryBuffer) Put(pos int64, data []byte) error {
	if b.closed {
		return &ClosedError{Op: "Put"}
	}
	if err := checkWritable("Put", b.Protection()); err != nil {
		return err
	}
	if err := checkBounds("Put", pos, int64(len(data)), b.capacity); err != nil {
		return err
	}
	return b.writeAt(pos, data)
}

func (b *MemoryBuffer) writeAt(pos int64, data []byte) error {
	for len(data) > 0 {
		pageIdx := pos >> memPageBits
		pageOff := pos & memPageMask
		n := copy(b.page(pageIdx)[pageOff:], data)
		data = data[n:]
		pos += int64(n)
	}
	return nil
}

func (b *MemoryBuffer) PutByte(pos int64, v byte) error {
	return b.Put(pos, []byte{v})
}

func (b *MemoryBuffer) PutI32(pos int64, v int32) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(v))
	return b.Put(pos, out[:])
}

func (b *MemoryBuffer) PutI64(pos int64, v int64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return b.Put(pos, out[:])
}

func (b *MemoryBuffer) Barrier(force bool) error { return nil }

func (b *MemoryBuffer) InputStream(pos, length int64) (*InputStream, error) {
	if err := checkBounds("InputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newInputStream(b, pos, length), nil
}

func (b *MemoryBuffer) OutputStream(pos, length int64) (*OutputStream, error) {
	if err := checkBounds("OutputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newOutputStream(b, pos, length), nil
}

func (b *MemoryBuffer) Close() error {
	b.closed = true
	b.pages = nil
	return nil
}

var _ PersistentBuffer = (*MemoryBuffer)(nil)
