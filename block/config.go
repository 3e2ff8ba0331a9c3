package block

// defaultPageSize is the page granularity both block allocators round
// capacity requests up to when Config.PageSize is left at zero.
const defaultPageSize = 4096

// Config carries the tunable knobs shared across the block allocator
// constructors, grounded on dbm.Options the same way buffer.Config is:
// one options struct per allocator instead of a constructor parameter
// list that grows with every layout knob. The zero value selects every
// default; a field an allocator has no use for is ignored by it (e.g.
// DynamicPersistentBlockBuffer ignores BlockSize, which only the fixed
// allocator needs).
type Config struct {
	// BlockSize is the fixed slot size in bytes, required by
	// OpenFixedPersistentBlockBuffer. Ignored by the dynamic allocator.
	BlockSize int64

	// PageSize is the granularity capacity grows by: both allocators
	// round their initial capacity and every growth up to a multiple of
	// it. The fixed allocator's bitmap-group/data-region layout is sized
	// from BlockSize alone and is not aligned to it. Zero selects 4096.
	PageSize int64
}

// normalized returns c with every zero-valued tunable replaced by its
// default.
func (c Config) normalized() Config {
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	return c
}
