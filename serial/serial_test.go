package serial

import (
	"testing"

	"github.com/ao-apps/ao-persistence/buffer"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, codec Codec[T], v T) T {
	t.Helper()
	buf := buffer.NewMemoryBuffer("mem")
	require.NoError(t, buf.SetCapacity(1024))
	w, err := buf.OutputStream(0, codec.Size(v))
	require.NoError(t, err)
	require.NoError(t, codec.Encode(v, w))

	r, err := buf.InputStream(0, codec.Size(v))
	require.NoError(t, err)
	got, err := codec.Decode(r)
	require.NoError(t, err)
	return got
}

func TestBoolCodecRoundTrip(t *testing.T) {
	require.Equal(t, true, roundTrip[bool](t, BoolCodec{}, true))
	require.Equal(t, false, roundTrip[bool](t, BoolCodec{}, false))
}

func TestByteCodecRoundTrip(t *testing.T) {
	require.Equal(t, byte(0xAB), roundTrip[byte](t, ByteCodec{}, 0xAB))
}

func TestUint16CodecRoundTrip(t *testing.T) {
	require.Equal(t, uint16(0xBEEF), roundTrip[uint16](t, Uint16Codec{}, 0xBEEF))
}

func TestInt32CodecRoundTrip(t *testing.T) {
	require.Equal(t, int32(-12345), roundTrip[int32](t, Int32Codec{}, -12345))
}

func TestInt64CodecRoundTrip(t *testing.T) {
	require.Equal(t, int64(-9876543210), roundTrip[int64](t, Int64Codec{}, -9876543210))
}

func TestFloat32CodecRoundTrip(t *testing.T) {
	require.Equal(t, float32(3.14159), roundTrip[float32](t, Float32Codec{}, 3.14159))
}

func TestFloat64CodecRoundTrip(t *testing.T) {
	require.Equal(t, 2.718281828, roundTrip[float64](t, Float64Codec{}, 2.718281828))
}

func TestByteSliceCodecRoundTrip(t *testing.T) {
	got := roundTrip[[]byte](t, ByteSliceCodec{}, []byte("some payload bytes"))
	require.Equal(t, []byte("some payload bytes"), got)
}

func TestByteSliceCodecEmpty(t *testing.T) {
	got := roundTrip[[]byte](t, ByteSliceCodec{}, []byte{})
	require.Empty(t, got)
}

func TestUint16SliceCodecRoundTrip(t *testing.T) {
	got := roundTrip[[]uint16](t, Uint16SliceCodec{}, []uint16{1, 2, 300, 65000})
	require.Equal(t, []uint16{1, 2, 300, 65000}, got)
}

func TestObjectCodecGobFallbackRoundTrip(t *testing.T) {
	type point struct {
		X, Y int
	}
	codec := ObjectCodec[point]{}
	got := roundTrip[point](t, codec, point{X: 3, Y: 4})
	require.Equal(t, point{X: 3, Y: 4}, got)
}

func TestRegistryResolveReturnsBuiltinForKnownType(t *testing.T) {
	r := NewRegistry()
	codec := Resolve[int64](r)
	_, isObjectCodec := any(codec).(ObjectCodec[int64])
	require.False(t, isObjectCodec, "int64 should resolve to the built-in Int64Codec")
}

func TestRegistryResolveFallsBackToObjectCodec(t *testing.T) {
	type custom struct{ A string }
	r := NewRegistry()
	codec := Resolve[custom](r)
	_, isObjectCodec := any(codec).(ObjectCodec[custom])
	require.True(t, isObjectCodec)
}

func TestRegistryRegisterOverridesBuiltin(t *testing.T) {
	r := NewRegistry()
	Register[int64](r, ObjectCodec[int64]{})
	codec := Resolve[int64](r)
	_, isObjectCodec := any(codec).(ObjectCodec[int64])
	require.True(t, isObjectCodec)
}
