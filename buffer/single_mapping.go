package buffer

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
)

// maxSingleMappingSize is the largest length a SingleMappingBuffer can
// represent: the mapping covers the whole file in one contiguous region,
// and mmap's length argument is conventionally an int, so we cap at the
// spec's documented 2^31-1 bound regardless of host pointer width.
const maxSingleMappingSize = (1 << 31) - 1

// SingleMappingBuffer maps the entire backing file [0, length) into one
// contiguous region via github.com/edsrzf/mmap-go. Limited to
// length <= 2^31-1. SetCapacity re-maps after truncating/extending the
// file.
type SingleMappingBuffer struct {
	f        *os.File
	name     string
	level    ProtectionLevel
	capacity int64
	m        mmap.MMap
	closed   bool
}

// OpenSingleMappingBuffer opens path and maps it in full. A nonzero
// cfg.MaxCapacityHint preallocates a freshly created file to that many
// bytes; it has no effect on the buffer's logical capacity.
func OpenSingleMappingBuffer(path string, cfg Config) (*SingleMappingBuffer, error) {
	level := cfg.ProtectionLevel
	flags := os.O_RDWR
	freshlyCreated := false
	if level == ReadOnly {
		flags = os.O_RDONLY
	} else {
		flags |= os.O_CREATE
		freshlyCreated = !exists(path)
	}
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, level == ReadOnly); err != nil {
		f.Close()
		return nil, err
	}
	if freshlyCreated && cfg.MaxCapacityHint > 0 {
		if cfg.MaxCapacityHint > maxSingleMappingSize {
			unlockFile(f)
			f.Close()
			return nil, &InvalidError{Op: "OpenSingleMappingBuffer", Value: cfg.MaxCapacityHint}
		}
		if err := f.Truncate(cfg.MaxCapacityHint); err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
	}
	capacity := int64(0)
	if !freshlyCreated {
		fi, err := f.Stat()
		if err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
		if fi.Size() > maxSingleMappingSize {
			unlockFile(f)
			f.Close()
			return nil, &InvalidError{Op: "OpenSingleMappingBuffer", Value: fi.Size()}
		}
		capacity = fi.Size()
	}
	b := &SingleMappingBuffer{f: f, name: path, level: level, capacity: capacity}
	if b.capacity > 0 {
		if err := b.remap(); err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *SingleMappingBuffer) mmapFlags() int {
	if b.level == ReadOnly {
		return mmap.RDONLY
	}
	return mmap.RDWR
}

func (b *SingleMappingBuffer) remap() error {
	if b.m != nil {
		if err := b.m.Unmap(); err != nil {
			return err
		}
		b.m = nil
	}
	if b.capacity == 0 {
		return nil
	}
	m, err := mmap.MapRegion(b.f, int(b.capacity), b.mmapFlags(), 0, 0)
	if err != nil {
		return err
	}
	b.m = m
	return nil
}

func (b *SingleMappingBuffer) Name() string               { return b.name }
func (b *SingleMappingBuffer) Capacity() int64             { return b.capacity }
func (b *SingleMappingBuffer) Protection() ProtectionLevel { return b.level }

func (b *SingleMappingBuffer) SetCapacity(n int64) error {
	if b.closed {
		return &ClosedError{Op: "SetCapacity"}
	}
	if err := checkWritable("SetCapacity", b.level); err != nil {
		return err
	}
	if n < 0 || n > maxSingleMappingSize {
		return &InvalidError{Op: "SetCapacity", Value: n}
	}
	if err := b.f.Truncate(n); err != nil {
		return err
	}
	old := b.capacity
	b.capacity = n
	if err := b.remap(); err != nil {
		return err
	}
	if n > old {
		for i := old; i < n; i++ {
			b.m[i] = 0
		}
	}
	return nil
}

func (b *SingleMappingBuffer) Get(pos int64, out []byte) error {
	if b.closed {
		return &ClosedError{Op: "Get"}
	}
	if err := checkBounds("Get", pos, int64(len(out)), b.capacity); err != nil {
		return err
	}
	copy(out, b.m[pos:pos+int64(len(out))])
	return nil
}

func (b *SingleMappingBuffer) GetSome(pos int64, out []byte) (int, error) {
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
	copy(out[:n], b.m[pos:pos+n])
	return int(n), nil
}

func (b *SingleMappingBuffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *SingleMappingBuffer) GetByte(pos int64) (byte, error) {
	if err := checkBounds("GetByte", pos, 1, b.capacity); err != nil {
		return 0, err
	}
	return b.m[pos], nil
}

func (b *SingleMappingBuffer) GetI32(pos int64) (int32, error) {
	if err := checkBounds("GetI32", pos, 4, b.capacity); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b.m[pos : pos+4])), nil
}

func (b *SingleMappingBuffer) GetI64(pos int64) (int64, error) {
	if err := checkBounds("GetI64", pos, 8, b.capacity); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b.m[pos : pos+8])), nil
}

func (b *SingleMappingBuffer) EnsureZeros(pos, length int64) error {
	if err := checkWritable("EnsureZeros", b.level); err != nil {
		return err
	}
	if err := checkBounds("EnsureZeros", pos, length, b.capacity); err != nil {
		return err
	}
	region := b.m[pos : pos+length]
	for _, c := range region {
		if c != 0 {
			for i := range region {
				region[i] = 0
			}
			return nil
		}
	}
	return nil
}

func (b *SingleMappingBuffer) Put(pos int64, data []byte) error {
	if b.closed {
		return &ClosedError{Op: "Put"}
	}
	if err := checkWritable("Put", b.level); err != nil {
		return err
	}
	if err := checkBounds("Put", pos, int64(len(data)), b.capacity); err != nil {
		return err
	}
	copy(b.m[pos:pos+int64(len(data))], data)
	return nil
}

func (b *SingleMappingBuffer) PutByte(pos int64, v byte) error {
	return b.Put(pos, []byte{v})
}

func (b *SingleMappingBuffer) PutI32(pos int64, v int32) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(v))
	return b.Put(pos, out[:])
}

func (b *SingleMappingBuffer) PutI64(pos int64, v int64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return b.Put(pos, out[:])
}

func (b *SingleMappingBuffer) Barrier(force bool) error {
	if b.closed {
		return &ClosedError{Op: "Barrier"}
	}
	if b.level == None || !force || b.m == nil {
		return nil
	}
	return b.m.Flush()
}

func (b *SingleMappingBuffer) InputStream(pos, length int64) (*InputStream, error) {
	if err := checkBounds("InputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newInputStream(b, pos, length), nil
}

func (b *SingleMappingBuffer) OutputStream(pos, length int64) (*OutputStream, error) {
	if err := checkBounds("OutputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newOutputStream(b, pos, length), nil
}

func (b *SingleMappingBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.m != nil {
		if err := b.m.Unmap(); err != nil {
			return err
		}
	}
	_ = unlockFile(b.f)
	return b.f.Close()
}

var _ PersistentBuffer = (*SingleMappingBuffer)(nil)
