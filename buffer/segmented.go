package buffer

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
)

// segmentBits/segmentSize fix each mapped segment at 2^30 bytes, avoiding
// the 2^31-1 ceiling a single mmap.Map call runs into on 32-bit length
// arguments, and keeping each individual mapping well clear of common
// virtual-memory overcommit limits.
const segmentBits = 30
const segmentSize = 1 << segmentBits
const segmentMask = segmentSize - 1

// SegmentedMappingBuffer maps the backing file as a sequence of
// independent 2^30-byte mmap segments, grown or shrunk as SetCapacity
// moves the high-water mark. Unlike SingleMappingBuffer it has no
// practical length ceiling.
type SegmentedMappingBuffer struct {
	f        *os.File
	name     string
	level    ProtectionLevel
	capacity int64
	segments []mmap.MMap
	closed   bool
}

// OpenSegmentedMappingBuffer opens path and maps it in 2^30-byte
// segments. A nonzero cfg.MaxCapacityHint preallocates a freshly
// created file to that many bytes; it has no effect on the buffer's
// logical capacity.
func OpenSegmentedMappingBuffer(path string, cfg Config) (*SegmentedMappingBuffer, error) {
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
		if err := f.Truncate(cfg.MaxCapacityHint); err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
	}
	size := int64(0)
	if !freshlyCreated {
		fi, err := f.Stat()
		if err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
		size = fi.Size()
	}
	b := &SegmentedMappingBuffer{f: f, name: path, level: level}
	if err := b.resize(size); err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *SegmentedMappingBuffer) numSegments() int {
	return int((b.capacity + segmentSize - 1) / segmentSize)
}

func (b *SegmentedMappingBuffer) mmapFlags() int {
	if b.level == ReadOnly {
		return mmap.RDONLY
	}
	return mmap.RDWR
}

// resize remaps segments to match a new capacity, unmapping trailing
// segments on shrink and mapping new ones on grow. Segment 0..n-2 are
// always exactly segmentSize; the final segment covers the remainder.
func (b *SegmentedMappingBuffer) resize(n int64) error {
	want := 0
	if n > 0 {
		want = int((n + segmentSize - 1) / segmentSize)
	}
	for len(b.segments) > want {
		last := len(b.segments) - 1
		if err := b.segments[last].Unmap(); err != nil {
			return err
		}
		b.segments = b.segments[:last]
	}
	for i := len(b.segments); i < want; i++ {
		segLen := int64(segmentSize)
		if i == want-1 {
			if r := n - int64(i)*segmentSize; r < segmentSize {
				segLen = r
			}
		}
		m, err := mmap.MapRegion(b.f, int(segLen), b.mmapFlags(), 0, int64(i)*segmentSize)
		if err != nil {
			return err
		}
		b.segments = append(b.segments, m)
	}
	// Final segment may need re-mapping at a different length if it grew
	// or shrank within the same segment index.
	if want > 0 && want == len(b.segments) {
		last := want - 1
		wantLen := int64(segmentSize)
		if r := n - int64(last)*segmentSize; r < segmentSize {
			wantLen = r
		}
		if int64(len(b.segments[last])) != wantLen {
			if err := b.segments[last].Unmap(); err != nil {
				return err
			}
			m, err := mmap.MapRegion(b.f, int(wantLen), b.mmapFlags(), 0, int64(last)*segmentSize)
			if err != nil {
				return err
			}
			b.segments[last] = m
		}
	}
	b.capacity = n
	return nil
}

func (b *SegmentedMappingBuffer) Name() string               { return b.name }
func (b *SegmentedMappingBuffer) Capacity() int64             { return b.capacity }
func (b *SegmentedMappingBuffer) Protection() ProtectionLevel { return b.level }

func (b *SegmentedMappingBuffer) SetCapacity(n int64) error {
	if b.closed {
		return &ClosedError{Op: "SetCapacity"}
	}
	if err := checkWritable("SetCapacity", b.level); err != nil {
		return err
	}
	if n < 0 {
		return &InvalidError{Op: "SetCapacity", Value: n}
	}
	old := b.capacity
	if err := b.f.Truncate(n); err != nil {
		return err
	}
	if err := b.resize(n); err != nil {
		return err
	}
	if n > old {
		b.zeroRange(old, n)
	}
	return nil
}

func (b *SegmentedMappingBuffer) zeroRange(from, to int64) {
	for from < to {
		segIdx := from >> segmentBits
		segOff := from & segmentMask
		seg := b.segments[segIdx]
		n := int64(len(seg)) - segOff
		if from+n > to {
			n = to - from
		}
		for i := segOff; i < segOff+n; i++ {
			seg[i] = 0
		}
		from += n
	}
}

// withEachSegment walks [pos, pos+len(p)) across segment boundaries,
// invoking fn with the slice of p and the matching segment sub-slice.
func (b *SegmentedMappingBuffer) withEachSegment(pos int64, p []byte, fn func(segData, userData []byte)) {
	for len(p) > 0 {
		segIdx := pos >> segmentBits
		segOff := pos & segmentMask
		seg := b.segments[segIdx]
		n := int64(len(seg)) - segOff
		if n > int64(len(p)) {
			n = int64(len(p))
		}
		fn(seg[segOff:segOff+n], p[:n])
		p = p[n:]
		pos += n
	}
}

func (b *SegmentedMappingBuffer) Get(pos int64, out []byte) error {
	if b.closed {
		return &ClosedError{Op: "Get"}
	}
	if err := checkBounds("Get", pos, int64(len(out)), b.capacity); err != nil {
		return err
	}
	b.withEachSegment(pos, out, func(segData, userData []byte) { copy(userData, segData) })
	return nil
}

func (b *SegmentedMappingBuffer) GetSome(pos int64, out []byte) (int, error) {
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
	b.withEachSegment(pos, out[:n], func(segData, userData []byte) { copy(userData, segData) })
	return int(n), nil
}

func (b *SegmentedMappingBuffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *SegmentedMappingBuffer) GetByte(pos int64) (byte, error) {
	var out [1]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *SegmentedMappingBuffer) GetI32(pos int64) (int32, error) {
	var out [4]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(out[:])), nil
}

func (b *SegmentedMappingBuffer) GetI64(pos int64) (int64, error) {
	var out [8]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(out[:])), nil
}

func (b *SegmentedMappingBuffer) EnsureZeros(pos, length int64) error {
	if err := checkWritable("EnsureZeros", b.level); err != nil {
		return err
	}
	if err := checkBounds("EnsureZeros", pos, length, b.capacity); err != nil {
		return err
	}
	dirty := false
	b.withEachSegment(pos, make([]byte, length), func(segData, _ []byte) {
		for _, c := range segData {
			if c != 0 {
				dirty = true
				break
			}
		}
	})
	if !dirty {
		return nil
	}
	b.withEachSegment(pos, make([]byte, length), func(segData, _ []byte) {
		for i := range segData {
			segData[i] = 0
		}
	})
	return nil
}

func (b *SegmentedMappingBuffer) Put(pos int64, data []byte) error {
	if b.closed {
		return &ClosedError{Op: "Put"}
	}
	if err := checkWritable("Put", b.level); err != nil {
		return err
	}
	if err := checkBounds("Put", pos, int64(len(data)), b.capacity); err != nil {
		return err
	}
	b.withEachSegment(pos, data, func(segData, userData []byte) { copy(segData, userData) })
	return nil
}

func (b *SegmentedMappingBuffer) PutByte(pos int64, v byte) error {
	return b.Put(pos, []byte{v})
}

func (b *SegmentedMappingBuffer) PutI32(pos int64, v int32) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(v))
	return b.Put(pos, out[:])
}

func (b *SegmentedMappingBuffer) PutI64(pos int64, v int64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return b.Put(pos, out[:])
}

func (b *SegmentedMappingBuffer) Barrier(force bool) error {
	if b.closed {
		return &ClosedError{Op: "Barrier"}
	}
	if b.level == None || !force {
		return nil
	}
	for _, seg := range b.segments {
		if err := seg.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (b *SegmentedMappingBuffer) InputStream(pos, length int64) (*InputStream, error) {
	if err := checkBounds("InputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newInputStream(b, pos, length), nil
}

func (b *SegmentedMappingBuffer) OutputStream(pos, length int64) (*OutputStream, error) {
	if err := checkBounds("OutputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newOutputStream(b, pos, length), nil
}

func (b *SegmentedMappingBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	for _, seg := range b.segments {
		if err := seg.Unmap(); err != nil {
			return err
		}
	}
	_ = unlockFile(b.f)
	return b.f.Close()
}

var _ PersistentBuffer = (*SegmentedMappingBuffer)(nil)
