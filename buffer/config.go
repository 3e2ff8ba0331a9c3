package buffer

import "time"

// Config carries the tunable knobs shared across every PersistentBuffer
// constructor, grounded on dbm.Options: one options struct per buffer
// instead of a constructor parameter list that grows with every
// protocol-specific knob. The zero value selects every default; fields
// a particular buffer implementation has no use for are simply ignored
// by it (e.g. DirectBuffer ignores SectorSize/AsyncCommitDelay/
// SyncCommitDelay, which only TwoCopyBarrierBuffer's commit protocol
// needs).
type Config struct {
	// ProtectionLevel selects the buffer's durability/locking contract.
	ProtectionLevel ProtectionLevel

	// SectorSize is the granularity TwoCopyBarrierBuffer caches writes
	// and commits at. Must be a power of two; zero selects 4096.
	SectorSize int64

	// AsyncCommitDelay is TwoCopyBarrierBuffer's shared-timer commit
	// trigger threshold (trigger (c)). Zero selects a 5-second default;
	// DisableAsyncCommit turns the timer off for this buffer.
	AsyncCommitDelay time.Duration

	// SyncCommitDelay is TwoCopyBarrierBuffer's Barrier(force=false)
	// commit trigger threshold (trigger (b)). Zero selects a 60-second
	// default.
	SyncCommitDelay time.Duration

	// MaxCapacityHint, if nonzero, preallocates a freshly created
	// (empty) backing file to this many bytes up front rather than
	// growing it one SetCapacity call at a time. It is a hint, not a
	// floor: SetCapacity still truncates the file to whatever size is
	// requested, including below the hint. Has no effect when the
	// backing file already has content.
	MaxCapacityHint int64
}

// normalized returns c with every zero-valued tunable replaced by its
// spec default.
func (c Config) normalized() Config {
	if c.SectorSize == 0 {
		c.SectorSize = defaultSectorSize
	}
	if c.AsyncCommitDelay == 0 {
		c.AsyncCommitDelay = defaultAsyncCommitDelay
	}
	if c.SyncCommitDelay == 0 {
		c.SyncCommitDelay = defaultSyncCommitDelay
	}
	return c
}
