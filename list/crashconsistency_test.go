package list

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/ao-apps/ao-persistence/block"
	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/ao-apps/ao-persistence/faultinject"
	"github.com/ao-apps/ao-persistence/serial"
	"github.com/stretchr/testify/require"
)

// TestCrashConsistencyAcrossManySeeds drives a random batch of
// addFirst/addLast/removeFirst/removeLast/Barrier operations through a
// faultinject.Buffer-wrapped list for many seeds and crash
// probabilities, simulating a process kill mid-batch by letting
// faultinject tear the pending sectors and close the underlying
// buffer. After every run — crashed or not — the on-disk file is
// reopened fresh, which runs recoverList the same way a real restart
// would; a successful Open is itself the invariant check (spec.md
// §4.6's numbered sequence returns *CorruptionError on anything it
// can't repair), and the reopened list's own walk-derived Size is
// cross-checked against an independent full scan.
func TestCrashConsistencyAcrossManySeeds(t *testing.T) {
	crashProbabilities := []float64{0.0, 0.05, 0.2, 0.5}
	const seedsPerProbability = 25
	const opsPerRun = 60

	for _, crashProb := range crashProbabilities {
		crashProb := crashProb
		for seedOffset := int64(0); seedOffset < seedsPerProbability; seedOffset++ {
			seed := seedOffset
			path := filepath.Join(t.TempDir(), "crash.db")
			rng := rand.New(rand.NewSource(seed))

			base, err := buffer.OpenDirectBuffer(path, buffer.Config{ProtectionLevel: buffer.Force})
			require.NoErrorf(t, err, "p=%v seed=%d: open base", crashProb, seed)
			fi := faultinject.New(base, rng.Int63(), faultinject.Config{CrashProbability: crashProb})
			blocks, err := block.OpenDynamicPersistentBlockBuffer(fi, block.Config{})
			require.NoErrorf(t, err, "p=%v seed=%d: open blocks", crashProb, seed)
			l, err := Open[int64](blocks, serial.Int64Codec{})
			require.NoErrorf(t, err, "p=%v seed=%d: open list", crashProb, seed)

			crashed := false
			for i := 0; i < opsPerRun && !crashed; i++ {
				var opErr error
				switch rng.Intn(5) {
				case 0:
					opErr = l.AddFirst(rng.Int63())
				case 1:
					opErr = l.AddLast(rng.Int63())
				case 2:
					if l.Size() > 0 {
						opErr = l.RemoveFirst()
					}
				case 3:
					if l.Size() > 0 {
						opErr = l.RemoveLast()
					}
				case 4:
					opErr = l.Barrier(true)
				}
				if opErr != nil {
					if _, ok := opErr.(*faultinject.CrashedError); ok {
						crashed = true
						break
					}
					t.Fatalf("p=%v seed=%d op=%d: %v", crashProb, seed, i, opErr)
				}
			}
			if !crashed {
				require.NoErrorf(t, l.Close(), "p=%v seed=%d: close", crashProb, seed)
			}

			// Reopen fresh against the same on-disk file, exactly as a real
			// process would after being killed.
			reopened, err := buffer.OpenDirectBuffer(path, buffer.Config{ProtectionLevel: buffer.Force})
			require.NoErrorf(t, err, "p=%v seed=%d: reopen base", crashProb, seed)
			blocks2, err := block.OpenDynamicPersistentBlockBuffer(reopened, block.Config{})
			require.NoErrorf(t, err, "p=%v seed=%d: reopen blocks", crashProb, seed)
			l2, err := Open[int64](blocks2, serial.Int64Codec{})
			require.NoErrorf(t, err, "p=%v seed=%d: recovery did not converge to a valid list", crashProb, seed)

			var scanned int64
			it := l2.Iterator()
			for it.HasNext() {
				_, _, err := it.Next()
				require.NoErrorf(t, err, "p=%v seed=%d: iterating recovered list", crashProb, seed)
				scanned++
			}
			require.Equalf(t, l2.Size(), scanned, "p=%v seed=%d: cached size disagrees with a full scan", crashProb, seed)

			require.NoErrorf(t, l2.Close(), "p=%v seed=%d: close recovered list", crashProb, seed)
		}
	}
}
