package faultinject

import (
	"testing"

	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/stretchr/testify/require"
)

func TestBufferCachesWritesUntilBarrier(t *testing.T) {
	base := buffer.NewMemoryBuffer("mem")
	require.NoError(t, base.SetCapacity(4096))
	fi := New(base, 1, Config{CrashProbability: 0})

	require.NoError(t, fi.Put(0, []byte("cached")))
	// Not yet flushed to the underlying buffer.
	raw := make([]byte, 6)
	require.NoError(t, base.Get(0, raw))
	require.NotEqual(t, "cached", string(raw))

	// But readable through the fault-injecting handle itself.
	readBack := make([]byte, 6)
	require.NoError(t, fi.Get(0, readBack))
	require.Equal(t, "cached", string(readBack))

	require.NoError(t, fi.Barrier(true))
	require.NoError(t, base.Get(0, raw))
	require.Equal(t, "cached", string(raw))
}

func TestBufferNoCrashWithZeroProbability(t *testing.T) {
	base := buffer.NewMemoryBuffer("mem")
	require.NoError(t, base.SetCapacity(4096))
	fi := New(base, 42, Config{CrashProbability: 0})
	for i := 0; i < 20; i++ {
		require.NoError(t, fi.PutI64(int64(i)*8, int64(i)))
		require.NoError(t, fi.Barrier(true))
	}
	require.Equal(t, Stats{Crashes: 0}, fi.Stats())
}

func TestBufferAlwaysCrashesWithProbabilityOne(t *testing.T) {
	base := buffer.NewMemoryBuffer("mem")
	require.NoError(t, base.SetCapacity(4096))
	fi := New(base, 7, Config{CrashProbability: 1})
	require.NoError(t, fi.Put(0, []byte("x")))
	err := fi.Barrier(true)
	var crashed *CrashedError
	require.ErrorAs(t, err, &crashed)
	require.Equal(t, Stats{Crashes: 1}, fi.Stats())
}

func TestBufferRejectsCallsAfterCrash(t *testing.T) {
	base := buffer.NewMemoryBuffer("mem")
	require.NoError(t, base.SetCapacity(4096))
	fi := New(base, 7, Config{CrashProbability: 1})
	require.NoError(t, fi.Put(0, []byte("x")))
	err := fi.Barrier(true)
	require.Error(t, err)

	err = fi.Put(0, []byte("y"))
	var crashed *CrashedError
	require.ErrorAs(t, err, &crashed)

	_, err = fi.GetByte(0)
	require.ErrorAs(t, err, &crashed)
}

func TestBufferSectorGranularityCaching(t *testing.T) {
	base := buffer.NewMemoryBuffer("mem")
	require.NoError(t, base.SetCapacity(8192))
	fi := New(base, 3, Config{SectorSize: 512, CrashProbability: 0})

	require.NoError(t, fi.Put(0, []byte("sector zero")))
	require.NoError(t, fi.Put(600, []byte("sector one")))
	require.NoError(t, fi.Barrier(true))

	out := make([]byte, len("sector zero"))
	require.NoError(t, base.Get(0, out))
	require.Equal(t, "sector zero", string(out))

	out2 := make([]byte, len("sector one"))
	require.NoError(t, base.Get(600, out2))
	require.Equal(t, "sector one", string(out2))
}
