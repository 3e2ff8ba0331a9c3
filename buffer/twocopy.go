package buffer

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

const defaultSectorSize = 4096

// defaultAsyncCommitDelay is the shared timer's default per-buffer
// threshold (spec commit trigger (c)).
const defaultAsyncCommitDelay = 5 * time.Second

// defaultSyncCommitDelay is barrier(force=false)'s default threshold
// (spec commit trigger (b)). It is deliberately longer than the
// asynchronous delay: a non-forced barrier is a hint, not a deadline.
const defaultSyncCommitDelay = 60 * time.Second

// DisableAsyncCommit, passed as Config.AsyncCommitDelay, turns off
// the shared timer for one buffer (spec's "i64::MAX disables the timer").
const DisableAsyncCommit time.Duration = -1

// TwoCopyBarrierBuffer is the crash-safe buffer: writes accumulate in a
// sector-granularity memory cache and are committed to disk through a
// base/base.new/base.old rename sequence (spec.md §4.3), so that after
// any crash the file is left in one of two consistent states — the
// last durable commit, or the one before it.
//
// Two caches are kept, both keyed by sector-aligned offset and sharing
// slice values where they overlap:
//   - sinceBase: sectors whose value differs from what's currently on
//     disk at path `base`. This is the set that must still be applied
//     to reach the in-memory target state once base.new (a fresh
//     rename of base.old) starts catching up.
//   - sinceOld: sectors whose value differs from what's currently on
//     disk at path `base.old`. Since base.old lags base by one commit,
//     this is always a superset of sinceBase, and is exactly the set
//     written into base.new during a commit's step 2 (base.new begins
//     life as a copy of base.old's content via rename, not base's).
//
// On a successful commit, base.old becomes the pre-commit base, so the
// new sinceOld is simply the old sinceBase (same slices, re-rooted),
// and sinceBase resets to empty.
type TwoCopyBarrierBuffer struct {
	mu sync.Mutex

	path  string
	level ProtectionLevel
	cfg   Config

	baseFile *os.File
	capacity int64

	sinceBase map[int64][]byte
	sinceOld  map[int64][]byte
	dirtySince time.Time
	hasDirty   bool

	pool   *sectorPool
	closed bool
}

// OpenTwoCopyBarrierBuffer opens (or creates) the two-copy file set rooted
// at path, running the full 8-row crash-recovery procedure before
// returning.
func OpenTwoCopyBarrierBuffer(path string, cfg Config) (*TwoCopyBarrierBuffer, error) {
	cfg = cfg.normalized()
	level := cfg.ProtectionLevel
	freshlyCreated := !exists(path) && !exists(path+".new") && !exists(path+".old")
	if err := recoverTwoCopyFileSet(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, level == ReadOnly); err != nil {
		f.Close()
		return nil, err
	}
	if freshlyCreated && cfg.MaxCapacityHint > 0 && level != ReadOnly {
		if err := f.Truncate(cfg.MaxCapacityHint); err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
	}
	fi, err := f.Stat()
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}

	b := &TwoCopyBarrierBuffer{
		path:      path,
		level:     level,
		cfg:       cfg,
		baseFile:  f,
		capacity:  0,
		sinceBase: make(map[int64][]byte),
		sinceOld:  make(map[int64][]byte),
		pool:      newSectorPool(int(cfg.SectorSize), 64),
	}
	if freshlyCreated {
		// Logical capacity starts at 0 regardless of any preallocated
		// physical size: MaxCapacityHint reserves disk space, it does
		// not implicitly extend the caller-visible buffer.
		b.capacity = 0
	} else {
		b.capacity = fi.Size()
	}
	if err := b.seedSinceOld(); err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	if cfg.AsyncCommitDelay != DisableAsyncCommit {
		globalRegistry.register(b)
	}
	return b, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// recoverTwoCopyFileSet implements spec.md §4.3's state table at the
// three paths base=path, base.new=path+".new", base.old=path+".old".
func recoverTwoCopyFileSet(path string) error {
	newPath := path + ".new"
	oldPath := path + ".old"
	hasBase, hasNew, hasOld := exists(path), exists(newPath), exists(oldPath)

	switch {
	case hasBase && !hasNew && hasOld:
		// Normal: load base.
		return nil
	case hasNew && hasOld:
		// Mid-commit failure. If base exists, the attempted commit's
		// base.new is partial; discard it. Otherwise the commit reached
		// step 3 but not step 4; complete it.
		if hasBase {
			return os.Remove(newPath)
		}
		return os.Rename(newPath, path)
	case hasBase && !hasNew && !hasOld:
		return createEmptyFile(oldPath)
	case !hasBase && !hasNew && !hasOld:
		if err := createEmptyFile(path); err != nil {
			return err
		}
		return createEmptyFile(oldPath)
	default:
		return &CorruptionError{Op: "Open", Reason: "impossible two-copy file-set state"}
	}
}

func createEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

// seedSinceOld populates the superset cache by diffing base against
// base.old sector by sector, so a subsequent commit only rewrites
// sectors that actually differ.
func (b *TwoCopyBarrierBuffer) seedSinceOld() error {
	old, err := os.Open(b.path + ".old")
	if err != nil {
		return err
	}
	defer old.Close()

	sectorSize := b.cfg.SectorSize
	baseBuf := make([]byte, sectorSize)
	oldBuf := make([]byte, sectorSize)
	for pos := int64(0); pos < b.capacity; pos += sectorSize {
		n := sectorSize
		if pos+n > b.capacity {
			n = b.capacity - pos
		}
		bn, err := b.baseFile.ReadAt(baseBuf[:n], pos)
		if err != nil && bn != int(n) {
			return err
		}
		on, err := old.ReadAt(oldBuf[:n], pos)
		differs := err != nil || on != int(n)
		if !differs {
			differs = string(baseBuf[:n]) != string(oldBuf[:n])
		}
		if differs {
			cp := make([]byte, n)
			copy(cp, baseBuf[:n])
			b.sinceOld[pos] = cp
		}
	}
	return nil
}

func (b *TwoCopyBarrierBuffer) Name() string               { return b.path }
func (b *TwoCopyBarrierBuffer) Capacity() int64             { return b.capacity }
func (b *TwoCopyBarrierBuffer) Protection() ProtectionLevel { return b.level }

func (b *TwoCopyBarrierBuffer) sectorOf(pos int64) int64 {
	ss := b.cfg.SectorSize
	return pos - pos%ss
}

// sectorLen returns the live length of the sector starting at sectorPos,
// truncated at the current capacity.
func (b *TwoCopyBarrierBuffer) sectorLen(sectorPos int64) int64 {
	ss := b.cfg.SectorSize
	if sectorPos+ss > b.capacity {
		if b.capacity <= sectorPos {
			return 0
		}
		return b.capacity - sectorPos
	}
	return ss
}

// sectorSlice returns the authoritative content of the sector at
// sectorPos, reading from cache (sinceOld, the superset) or falling back
// to the on-disk base file. The returned slice is never retained as a
// cache value without copying first.
func (b *TwoCopyBarrierBuffer) sectorSlice(sectorPos int64) ([]byte, error) {
	if cached, ok := b.sinceOld[sectorPos]; ok {
		return cached, nil
	}
	n := b.sectorLen(sectorPos)
	buf, release := b.pool.get()
	defer release()
	buf = buf[:n]
	if n > 0 {
		if _, err := b.baseFile.ReadAt(buf, sectorPos); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// dirtySector returns a mutable copy of the sector at sectorPos, marking
// it dirty in both caches (sharing the same backing slice, per spec).
func (b *TwoCopyBarrierBuffer) dirtySector(sectorPos int64) ([]byte, error) {
	if existing, ok := b.sinceBase[sectorPos]; ok {
		return existing, nil
	}
	cur, err := b.sectorSlice(sectorPos)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(cur))
	copy(cp, cur)
	b.sinceBase[sectorPos] = cp
	b.sinceOld[sectorPos] = cp
	if !b.hasDirty {
		b.hasDirty = true
		b.dirtySince = time.Now()
	}
	return cp, nil
}

func (b *TwoCopyBarrierBuffer) SetCapacity(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
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
	// The base file's physical size must track capacity immediately:
	// sectorLen/sectorSlice compute bounds from b.capacity and read
	// straight through to baseFile on a cache miss, so a bumped capacity
	// with a still-short physical file turns every such read into an
	// io.EOF. Truncate grows/shrinks the real file first, the same way
	// DirectBuffer.SetCapacity and SingleMappingBuffer.SetCapacity do;
	// the grown region reads as zero both from the OS and from our own
	// cache miss path, so no explicit zero-fill write is needed for it.
	if err := b.baseFile.Truncate(n); err != nil {
		return err
	}
	b.capacity = n
	if n > old {
		return b.ensureZerosLocked(old, n-old)
	}
	if n < old {
		ss := b.cfg.SectorSize
		for pos := range b.sinceBase {
			if pos >= n-n%ss+ss {
				delete(b.sinceBase, pos)
			}
		}
		for pos := range b.sinceOld {
			if pos >= n-n%ss+ss {
				delete(b.sinceOld, pos)
			}
		}
	}
	return nil
}

func (b *TwoCopyBarrierBuffer) Get(pos int64, out []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &ClosedError{Op: "Get"}
	}
	if err := checkBounds("Get", pos, int64(len(out)), b.capacity); err != nil {
		return err
	}
	return b.readLocked(pos, out)
}

func (b *TwoCopyBarrierBuffer) readLocked(pos int64, out []byte) error {
	for len(out) > 0 {
		sectorPos := b.sectorOf(pos)
		sector, err := b.sectorSlice(sectorPos)
		if err != nil {
			return err
		}
		off := pos - sectorPos
		n := int64(len(sector)) - off
		if n > int64(len(out)) {
			n = int64(len(out))
		}
		if n < 0 {
			n = 0
		}
		copy(out[:n], sector[off:off+n])
		for i := n; i < int64(len(out)) && pos+i < b.capacity; i++ {
			out[i] = 0
		}
		out = out[n:]
		pos += n
		if n == 0 {
			break
		}
	}
	return nil
}

func (b *TwoCopyBarrierBuffer) GetSome(pos int64, out []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
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
	if err := b.readLocked(pos, out[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *TwoCopyBarrierBuffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *TwoCopyBarrierBuffer) GetByte(pos int64) (byte, error) {
	var out [1]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func (b *TwoCopyBarrierBuffer) GetI32(pos int64) (int32, error) {
	var out [4]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(out[:])), nil
}

func (b *TwoCopyBarrierBuffer) GetI64(pos int64) (int64, error) {
	var out [8]byte
	if err := b.Get(pos, out[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(out[:])), nil
}

func (b *TwoCopyBarrierBuffer) EnsureZeros(pos, length int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkWritable("EnsureZeros", b.level); err != nil {
		return err
	}
	if err := checkBounds("EnsureZeros", pos, length, b.capacity); err != nil {
		return err
	}
	return b.ensureZerosLocked(pos, length)
}

func (b *TwoCopyBarrierBuffer) ensureZerosLocked(pos, length int64) error {
	buf := make([]byte, length)
	if err := b.readLocked(pos, buf); err != nil {
		return err
	}
	for _, c := range buf {
		if c != 0 {
			return b.writeLocked(pos, make([]byte, length))
		}
	}
	return nil
}

func (b *TwoCopyBarrierBuffer) Put(pos int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &ClosedError{Op: "Put"}
	}
	if err := checkWritable("Put", b.level); err != nil {
		return err
	}
	if err := checkBounds("Put", pos, int64(len(data)), b.capacity); err != nil {
		return err
	}
	return b.writeLocked(pos, data)
}

// writeLocked applies data, skipping any sector write whose new bytes
// equal the current value (spec's flash-wear write policy).
func (b *TwoCopyBarrierBuffer) writeLocked(pos int64, data []byte) error {
	for len(data) > 0 {
		sectorPos := b.sectorOf(pos)
		cur, err := b.sectorSlice(sectorPos)
		if err != nil {
			return err
		}
		off := pos - sectorPos
		n := int64(len(cur)) - off
		if n > int64(len(data)) {
			n = int64(len(data))
		}
		if n <= 0 {
			break
		}
		if string(cur[off:off+n]) == string(data[:n]) {
			data = data[n:]
			pos += n
			continue
		}
		sector, err := b.dirtySector(sectorPos)
		if err != nil {
			return err
		}
		copy(sector[off:off+n], data[:n])
		data = data[n:]
		pos += n
	}
	return nil
}

func (b *TwoCopyBarrierBuffer) PutByte(pos int64, v byte) error {
	return b.Put(pos, []byte{v})
}

func (b *TwoCopyBarrierBuffer) PutI32(pos int64, v int32) error {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(v))
	return b.Put(pos, out[:])
}

func (b *TwoCopyBarrierBuffer) PutI64(pos int64, v int64) error {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return b.Put(pos, out[:])
}

// Barrier implements commit triggers (a) and (b). At ReadOnly/None it
// defers to the protection-level contract; at Barrier/Force a true force
// commits immediately, a false force commits only once SyncCommitDelay
// has elapsed since the first uncommitted write.
func (b *TwoCopyBarrierBuffer) Barrier(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &ClosedError{Op: "Barrier"}
	}
	if b.level == None {
		return nil
	}
	if !b.hasDirty {
		return nil
	}
	if force {
		return b.commitLocked()
	}
	if time.Since(b.dirtySince) >= b.cfg.SyncCommitDelay {
		return b.commitLocked()
	}
	return nil
}

// maybeTimerCommit implements commit trigger (c): the shared timer
// commits any buffer that has held uncommitted writes for at least
// AsyncCommitDelay.
func (b *TwoCopyBarrierBuffer) maybeTimerCommit(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.hasDirty {
		return
	}
	if now.Sub(b.dirtySince) >= b.cfg.AsyncCommitDelay {
		_ = b.commitLocked()
	}
}

// commitLocked executes the base/base.new/base.old rename sequence
// (spec.md §4.3 steps 1-4), caller holds b.mu.
func (b *TwoCopyBarrierBuffer) commitLocked() error {
	if len(b.sinceBase) == 0 {
		b.hasDirty = false
		return nil
	}
	newPath := b.path + ".new"
	oldPath := b.path + ".old"

	// Step 1: base.old -> base.new.
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	newFile, err := os.OpenFile(newPath, os.O_RDWR, 0o666)
	if err != nil {
		return err
	}

	// Step 2: write every sector dirty relative to base.old (the
	// superset cache) into base.new, bringing it from base.old's stale
	// content up to the current in-memory target state.
	var writeErr error
	for pos, sector := range b.sinceOld {
		if _, err := newFile.WriteAt(sector, pos); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		if err := newFile.Truncate(b.capacity); err != nil {
			writeErr = err
		}
	}
	if writeErr == nil && b.level == Force {
		writeErr = fdatasync(newFile)
	}
	newFile.Close()
	if writeErr != nil {
		return writeErr
	}

	// Step 3: base -> base.old.
	if err := b.baseFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(b.path, oldPath); err != nil {
		return err
	}
	// Step 4: base.new -> base.
	if err := os.Rename(newPath, b.path); err != nil {
		return err
	}

	f, err := os.OpenFile(b.path, os.O_RDWR, 0o666)
	if err != nil {
		return err
	}
	if err := lockFile(f, b.level == ReadOnly); err != nil {
		f.Close()
		return err
	}
	b.baseFile = f

	// The old sinceBase (dirty relative to the base we just replaced)
	// becomes the new sinceOld (dirty relative to the base.old we just
	// created from that same, now-superseded, base content).
	b.sinceOld = b.sinceBase
	b.sinceBase = make(map[int64][]byte)
	b.hasDirty = false
	return nil
}

func (b *TwoCopyBarrierBuffer) InputStream(pos, length int64) (*InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkBounds("InputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newInputStream(b, pos, length), nil
}

func (b *TwoCopyBarrierBuffer) OutputStream(pos, length int64) (*OutputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkBounds("OutputStream", pos, length, b.capacity); err != nil {
		return nil, err
	}
	return newOutputStream(b, pos, length), nil
}

// Close implements commit trigger (d): commit, then release resources.
func (b *TwoCopyBarrierBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	var err error
	if b.hasDirty && b.level != None {
		err = b.commitLocked()
	}
	b.closed = true
	globalRegistry.unregister(b)
	_ = unlockFile(b.baseFile)
	if cerr := b.baseFile.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ PersistentBuffer = (*TwoCopyBarrierBuffer)(nil)
