package buffer

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// DirectBuffer is a PersistentBuffer with no memory mapping: every Get/Put
// seeks and reads/writes the backing *os.File directly. Barrier(true) calls
// the OS's synchronous-flush primitive (fdatasync); Barrier(false) is a
// no-op, since the OS already orders seeks/writes issued on one descriptor.
//
// Grounded on lldb.OSFiler / lldb.SimpleFileFiler.
type DirectBuffer struct {
	f        *os.File
	name     string
	level    ProtectionLevel
	capacity int64
	closed   bool
}

// OpenDirectBuffer opens path (creating it if it does not exist, unless
// cfg.ProtectionLevel is ReadOnly) as a DirectBuffer. It takes the
// buffer's advisory file lock for the duration of the handle. A
// nonzero cfg.MaxCapacityHint preallocates a freshly created file to
// that many bytes; it has no effect on the buffer's logical capacity.
func OpenDirectBuffer(path string, cfg Config) (*DirectBuffer, error) {
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
	capacity := int64(0)
	if !freshlyCreated {
		fi, err := f.Stat()
		if err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
		capacity = fi.Size()
	}
	return &DirectBuffer{f: f, name: path, level: level, capacity: capacity}, nil
}

func (b *DirectBuffer) Name() string               { return b.name }
func (b *DirectBuffer) Capacity() int64             { return b.capacity }
func (b *DirectBuffer) Protection() ProtectionLevel { return b.level }

func (b *DirectBuffer) SetCapacity(n int64) error {
	if b.closed {
		return &ClosedError{Op: "SetCapacity"}
	}
	if err := checkWritable("SetCapacity", b.level); err != nil {
		return err
	}
	if n < 0 {
		return &InvalidError{Op: "SetCapacity", Value: n}
	}
	if err := b.f.Truncate(n); err != nil {
		return err
	}
	b.capacity = n
	return nil
}

func (b *DirectBuffer) Get(pos int64, out []byte) error {
	if b.closed {
		return &ClosedError{Op: "Get"}
	}
	if err := checkBounds("Get", pos, int64(len(out)), b.capacity); err != nil {
		return err
	}
	_, err := b.f.ReadAt(out, pos)
	return err
}

func (b *DirectBuffer) GetSome(pos int64, out []byte) (int, error) {
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
	if n == 0 {
		return 0, nil
	}
	m, err := b.f.ReadAt(out[:n], pos)
	return m, err
}

func (b *DirectBuffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *DirectBuffer) GetByte(pos int64) (byte, error) {
	var out [1]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *DirectBuffer) GetI32(pos int64) (int32, error) {
	var out [4]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(out[:])), nil
}

func (b *DirectBuffer) GetI64(pos int64) (int64, error) {
	var out [8]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(out[:])), nil
}

func (b *DirectBuffer) EnsureZeros(pos, length int64) error {
	if err := checkWritable("EnsureZeros", b.level); err != nil {
		return err
	}
	if err := checkBounds("EnsureZeros", pos, length, b.capacity); err != nil {
		return err
	}
	existing := make([]byte, length)
	if _, err := b.f.ReadAt(existing, pos); err != nil {
		return err
	}
	for _, c := range existing {
		if c != 0 {
			zeros := make([]byte, length)
			_, err := b.f.WriteAt(zeros, pos)
			return err
		}
	}
	return nil
}

func (b *DirectBuffer) Put(pos int64, data []byte) error {
	if b.closed {
		return &ClosedError{Op: "Put"}
	}
	if err := checkWritable("Put", b.level); err != nil {
		return err
	}
	if err := checkBounds("Put", pos, int64(len(data)), b.capacity); err != nil {
		return err
	}
	_, err := b.f.WriteAt(data, pos)
	return err
}

func (b *DirectBuffer) PutByte(pos int64, v byte) error {
	return b.Put(pos, []byte{v})
}

func (b *DirectBuffer) PutI32(pos int64, v int32) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(v))
	return b.Put(pos, out[:])
}

func (b *DirectBuffer) PutI64(pos int64, v int64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return b.Put(pos, out[:])
}

// Barrier honors ProtectionLevel: at None it is a no-op regardless of
// force; at Barrier/Force, force requests a synchronous flush via
// fdatasync. Since DirectBuffer never caches writes, ordering between
// barriers is already provided by the OS for a single descriptor.
func (b *DirectBuffer) Barrier(force bool) error {
	if b.closed {
		return &ClosedError{Op: "Barrier"}
	}
	if b.level == None || !force {
		return nil
	}
	return fdatasync(b.f)
}

func (b *DirectBuffer) InputStream(pos, length int64) (*InputStream, error) {
	if err := checkBounds("InputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newInputStream(b, pos, length), nil
}

func (b *DirectBuffer) OutputStream(pos, length int64) (*OutputStream, error) {
	if err := checkBounds("OutputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newOutputStream(b, pos, length), nil
}

func (b *DirectBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	_ = unlockFile(b.f)
	return b.f.Close()
}

// punchHole deallocates the byte range [off, off+size) inside the file
// without changing its reported length, using unix.Fallocate with
// FALLOC_FL_PUNCH_HOLE where supported. It is a best-effort hint; callers
// must not rely on the hole reading back as zeros on platforms that don't
// support the flag (mirrored from Filer.PunchHole's contract).
func punchHole(f *os.File, off, size int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, size)
	if err != nil {
		// Not fatal: PunchHole is a hint, not a correctness requirement.
		return nil
	}
	return nil
}

var _ PersistentBuffer = (*DirectBuffer)(nil)
