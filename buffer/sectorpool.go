package buffer

import "code.hybscloud.com/iobuf"

// maxPooledSectorSize caps TwoCopyBarrierBuffer's write-cache sector
// pooling at iobuf.BufferSizeBig (32 KiB): the largest fixed-size
// BoundedPool item type the pack's iobuf package offers. Sector sizes
// above this fall back to plain make([]byte, n) — a non-correctness
// affecting optimization boundary, since TwoCopyBarrierBuffer never
// requires a pooled allocation to function.
const maxPooledSectorSize = iobuf.BufferSizeBig

// sectorPool hands out scratch byte slices sized to one sector, backed
// by a bounded MPMC pool when the sector size fits, bypassing the pool
// (and any capacity limit) otherwise.
type sectorPool struct {
	sectorSize int
	pool       *iobuf.BigBufferBoundedPool
}

// newSectorPool builds a sectorPool for the given sector size. capacity
// bounds how many sectors may be checked out from the pool concurrently;
// it has no effect when sectorSize exceeds maxPooledSectorSize.
func newSectorPool(sectorSize, capacity int) *sectorPool {
	sp := &sectorPool{sectorSize: sectorSize}
	if sectorSize <= maxPooledSectorSize && capacity > 0 {
		p := iobuf.NewBigBufferPool(capacity)
		p.Fill(iobuf.NewBigBuffer)
		p.SetNonblock(true)
		sp.pool = p
	}
	return sp
}

// get returns a scratch buffer of exactly sectorSize bytes and a release
// function to call when done with it. When the pool is exhausted or
// unused for this sector size, get falls back to a plain allocation and
// release is a no-op.
func (sp *sectorPool) get() (buf []byte, release func()) {
	if sp.pool != nil {
		if idx, err := sp.pool.Get(); err == nil {
			arr := sp.pool.Value(idx)
			return arr[:sp.sectorSize], func() { _ = sp.pool.Put(idx) }
		}
	}
	return make([]byte, sp.sectorSize), func() {}
}
