// Package faultinject implements the fault-injection buffer test
// collaborator (spec.md §6): a buffer.PersistentBuffer wrapper that
// caches writes at sector granularity until Barrier. Crashes are
// simulated only inside Barrier: a Barrier with pending writes crashes
// with configurable probability — writing only a random subset of
// pending sectors, flushing, closing the underlying buffer, and failing
// later reads, writes and barriers. No other call crashes by itself.
//
// Grounded on calvinalkan-agent-task/internal/fs/chaos.go's Chaos
// wrapper: a seeded *rand.Rand, a rate-based ChaosConfig-shaped knob,
// and a Stats() counter struct, adapted from a filesystem-level
// fault injector to a sector-level buffer.PersistentBuffer one.
package faultinject

import (
	"math/rand"
	"sync"

	"github.com/ao-apps/ao-persistence/buffer"
)

// Config controls fault injection. The zero value disables injection.
type Config struct {
	// SectorSize is the granularity at which writes are cached and at
	// which a simulated crash tears. Must be a power of two; defaults
	// to 4096 if zero.
	SectorSize int64

	// CrashProbability is checked on every Barrier call that has pending
	// writes: with this probability (0.0 never, 1.0 always) the buffer
	// crashes instead of committing cleanly. A Barrier with nothing
	// pending never crashes.
	CrashProbability float64
}

func (c Config) normalized() Config {
	if c.SectorSize <= 0 {
		c.SectorSize = 4096
	}
	return c
}

// Stats reports how many times this buffer has simulated a crash.
type Stats struct {
	Crashes int64
}

// Buffer wraps a buffer.PersistentBuffer, deferring every write to an
// in-memory sector cache until Barrier flushes it. It exposes the four
// assumptions spec.md §6 requires of real storage for the list
// recovery tests to be meaningful:
//  1. single-sector writes are atomic;
//  2. writes of different sectors between barriers may be reordered;
//  3. same-sector writes are not reordered past newer ones;
//  4. the underlying buffer implements Barrier correctly.
//
// After a simulated crash, every Get*, Put*, EnsureZeros, SetCapacity,
// stream and Barrier call returns *CrashedError (GetSome only when it
// has bytes to read), Close returns nil, and Capacity, Protection, Name
// and Stats return no error; the caller is expected to discard the
// handle (the underlying buffer was already closed) the same way a real
// process would after a kill -9.
type Buffer struct {
	mu      sync.Mutex
	buf     buffer.PersistentBuffer
	cfg     Config
	rng     *rand.Rand
	dirty   map[int64][]byte // sector index -> sector-sized cached write
	crashed bool
	crashes int64
}

// New wraps buf with fault injection, seeded for reproducible runs.
func New(buf buffer.PersistentBuffer, seed int64, cfg Config) *Buffer {
	return &Buffer{
		buf:   buf,
		cfg:   cfg.normalized(),
		rng:   rand.New(rand.NewSource(seed)),
		dirty: make(map[int64][]byte),
	}
}

// Stats returns the number of simulated crashes so far.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Crashes: b.crashes}
}

func (b *Buffer) sectorOf(pos int64) int64 { return pos / b.cfg.SectorSize }

func (b *Buffer) checkCrashedLocked() error {
	if b.crashed {
		return &CrashedError{}
	}
	return nil
}

// dirtySector returns the cached sector slice for sector idx,
// lazily reading it from the underlying buffer first.
func (b *Buffer) dirtySector(idx int64) ([]byte, error) {
	if cached, ok := b.dirty[idx]; ok {
		return cached, nil
	}
	start := idx * b.cfg.SectorSize
	n := b.cfg.SectorSize
	if start+n > b.buf.Capacity() {
		n = b.buf.Capacity() - start
		if n < 0 {
			n = 0
		}
	}
	cur := make([]byte, b.cfg.SectorSize)
	if n > 0 {
		if err := b.buf.Get(start, cur[:n]); err != nil {
			return nil, err
		}
	}
	b.dirty[idx] = cur
	return cur, nil
}

func (b *Buffer) writeLocked(pos int64, data []byte) error {
	if err := b.checkCrashedLocked(); err != nil {
		return err
	}
	for len(data) > 0 {
		idx := b.sectorOf(pos)
		sectorStart := idx * b.cfg.SectorSize
		off := pos - sectorStart
		cached, err := b.dirtySector(idx)
		if err != nil {
			return err
		}
		n := int64(len(cached)) - off
		if n > int64(len(data)) {
			n = int64(len(data))
		}
		copy(cached[off:off+n], data[:n])
		data = data[n:]
		pos += n
	}
	return nil
}

func (b *Buffer) readLocked(pos int64, out []byte) error {
	if err := b.checkCrashedLocked(); err != nil {
		return err
	}
	for len(out) > 0 {
		idx := b.sectorOf(pos)
		sectorStart := idx * b.cfg.SectorSize
		off := pos - sectorStart
		if cached, ok := b.dirty[idx]; ok {
			n := int64(len(cached)) - off
			if n > int64(len(out)) {
				n = int64(len(out))
			}
			copy(out[:n], cached[off:off+n])
			out = out[n:]
			pos += n
			continue
		}
		n := b.cfg.SectorSize - off
		if n > int64(len(out)) {
			n = int64(len(out))
		}
		if err := b.buf.Get(pos, out[:n]); err != nil {
			return err
		}
		out = out[n:]
		pos += n
	}
	return nil
}

func (b *Buffer) Capacity() int64 { return b.buf.Capacity() }

func (b *Buffer) SetCapacity(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCrashedLocked(); err != nil {
		return err
	}
	return b.buf.SetCapacity(n)
}

func (b *Buffer) Get(pos int64, out []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(pos, out)
}

func (b *Buffer) GetSome(pos int64, out []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cap := b.buf.Capacity()
	if pos >= cap {
		return 0, nil
	}
	n := int64(len(out))
	if pos+n > cap {
		n = cap - pos
	}
	if err := b.readLocked(pos, out[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *Buffer) GetBool(pos int64) (bool, error) {
	v, err := b.GetByte(pos)
	return v != 0, err
}

func (b *Buffer) GetByte(pos int64) (byte, error) {
	var buf [1]byte
	if err := b.Get(pos, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *Buffer) GetI32(pos int64) (int32, error) {
	var buf [4]byte
	if err := b.Get(pos, buf[:]); err != nil {
		return 0, err
	}
	return int32(uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])), nil
}

func (b *Buffer) GetI64(pos int64) (int64, error) {
	var buf [8]byte
	if err := b.Get(pos, buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range buf {
		v = v<<8 | uint64(c)
	}
	return int64(v), nil
}

func (b *Buffer) EnsureZeros(pos, length int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCrashedLocked(); err != nil {
		return err
	}
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

func (b *Buffer) Put(pos int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeLocked(pos, data)
}

func (b *Buffer) PutByte(pos int64, v byte) error { return b.Put(pos, []byte{v}) }

func (b *Buffer) PutI32(pos int64, v int32) error {
	buf := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return b.Put(pos, buf[:])
}

func (b *Buffer) PutI64(pos int64, v int64) error {
	var buf [8]byte
	uv := uint64(v)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(uv)
		uv >>= 8
	}
	return b.Put(pos, buf[:])
}

// Barrier flushes the pending sector cache to the underlying buffer.
// When writes are pending it simulates a crash with probability
// cfg.CrashProbability: on crash only a random subset of pending
// sectors is written before the underlying buffer is flushed and
// closed, and the buffer fails every later read, write and barrier.
func (b *Buffer) Barrier(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCrashedLocked(); err != nil {
		return err
	}
	if len(b.dirty) == 0 {
		return b.buf.Barrier(force)
	}
	if b.rng.Float64() < b.cfg.CrashProbability {
		return b.crashLocked()
	}
	for idx, sector := range b.dirty {
		start := idx * b.cfg.SectorSize
		n := int64(len(sector))
		if start+n > b.buf.Capacity() {
			n = b.buf.Capacity() - start
		}
		if n > 0 {
			if err := b.buf.Put(start, sector[:n]); err != nil {
				return err
			}
		}
	}
	b.dirty = make(map[int64][]byte)
	return b.buf.Barrier(force)
}

// crashLocked writes a random subset of pending sectors (simulating a
// torn multi-sector write), flushes and closes the underlying buffer,
// and marks this handle crashed. Caller holds b.mu.
func (b *Buffer) crashLocked() error {
	for idx, sector := range b.dirty {
		if b.rng.Float64() >= 0.5 {
			continue
		}
		start := idx * b.cfg.SectorSize
		n := int64(len(sector))
		if start+n > b.buf.Capacity() {
			n = b.buf.Capacity() - start
		}
		if n > 0 {
			_ = b.buf.Put(start, sector[:n])
		}
	}
	_ = b.buf.Barrier(false)
	_ = b.buf.Close()
	b.crashed = true
	b.crashes++
	return &CrashedError{}
}

func (b *Buffer) InputStream(pos, length int64) (*buffer.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCrashedLocked(); err != nil {
		return nil, err
	}
	return b.buf.InputStream(pos, length)
}

func (b *Buffer) OutputStream(pos, length int64) (*buffer.OutputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkCrashedLocked(); err != nil {
		return nil, err
	}
	return b.buf.OutputStream(pos, length)
}

func (b *Buffer) Protection() buffer.ProtectionLevel { return b.buf.Protection() }
func (b *Buffer) Name() string                       { return b.buf.Name() }

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.crashed {
		return nil
	}
	for idx, sector := range b.dirty {
		start := idx * b.cfg.SectorSize
		n := int64(len(sector))
		if start+n > b.buf.Capacity() {
			n = b.buf.Capacity() - start
		}
		if n > 0 {
			if err := b.buf.Put(start, sector[:n]); err != nil {
				return err
			}
		}
	}
	b.dirty = make(map[int64][]byte)
	return b.buf.Close()
}

// CrashedError is returned by a Buffer's read, write, SetCapacity,
// stream and Barrier calls after a simulated crash.
type CrashedError struct{}

func (e *CrashedError) Error() string { return "faultinject: buffer has crashed" }

var _ buffer.PersistentBuffer = (*Buffer)(nil)
