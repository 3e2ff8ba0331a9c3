package serial

import (
	"encoding/binary"
	"math"

	"github.com/ao-apps/ao-persistence/buffer"
)

// registerPrimitives installs the built-in codecs a Registry ships
// with: booleans, single bytes, 16-bit chars, 32/64-bit integers,
// 32/64-bit floats, and byte/uint16 arrays (spec.md §6).
func registerPrimitives(r *Registry) {
	Register[bool](r, BoolCodec{})
	Register[byte](r, ByteCodec{})
	Register[uint16](r, Uint16Codec{})
	Register[int32](r, Int32Codec{})
	Register[int64](r, Int64Codec{})
	Register[float32](r, Float32Codec{})
	Register[float64](r, Float64Codec{})
	Register[[]byte](r, ByteSliceCodec{})
	Register[[]uint16](r, Uint16SliceCodec{})
}

// BoolCodec encodes bool as one byte.
type BoolCodec struct{}

func (BoolCodec) FixedSize() (int64, bool) { return 1, true }
func (BoolCodec) Size(bool) int64          { return 1 }
func (BoolCodec) Encode(v bool, w *buffer.OutputStream) error {
	var b byte
	if v {
		b = 1
	}
	return w.WriteByte(b)
}
func (BoolCodec) Decode(r *buffer.InputStream) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// ByteCodec encodes a single byte as itself.
type ByteCodec struct{}

func (ByteCodec) FixedSize() (int64, bool)                   { return 1, true }
func (ByteCodec) Size(byte) int64                             { return 1 }
func (ByteCodec) Encode(v byte, w *buffer.OutputStream) error { return w.WriteByte(v) }
func (ByteCodec) Decode(r *buffer.InputStream) (byte, error)  { return r.ReadByte() }

// Uint16Codec encodes a 16-bit "char" as two big-endian bytes.
type Uint16Codec struct{}

func (Uint16Codec) FixedSize() (int64, bool) { return 2, true }
func (Uint16Codec) Size(uint16) int64        { return 2 }
func (Uint16Codec) Encode(v uint16, w *buffer.OutputStream) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}
func (Uint16Codec) Decode(r *buffer.InputStream) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// Int32Codec encodes a big-endian int32.
type Int32Codec struct{}

func (Int32Codec) FixedSize() (int64, bool)                           { return 4, true }
func (Int32Codec) Size(int32) int64                                   { return 4 }
func (Int32Codec) Encode(v int32, w *buffer.OutputStream) error       { return w.WriteI32(v) }
func (Int32Codec) Decode(r *buffer.InputStream) (int32, error)        { return r.ReadI32() }

// Int64Codec encodes a big-endian int64.
type Int64Codec struct{}

func (Int64Codec) FixedSize() (int64, bool)                     { return 8, true }
func (Int64Codec) Size(int64) int64                             { return 8 }
func (Int64Codec) Encode(v int64, w *buffer.OutputStream) error { return w.WriteI64(v) }
func (Int64Codec) Decode(r *buffer.InputStream) (int64, error)  { return r.ReadI64() }

// Float32Codec encodes a big-endian IEEE-754 float32 via its bit pattern.
type Float32Codec struct{}

func (Float32Codec) FixedSize() (int64, bool) { return 4, true }
func (Float32Codec) Size(float32) int64       { return 4 }
func (Float32Codec) Encode(v float32, w *buffer.OutputStream) error {
	return w.WriteI32(int32(math.Float32bits(v)))
}
func (Float32Codec) Decode(r *buffer.InputStream) (float32, error) {
	v, err := r.ReadI32()
	return math.Float32frombits(uint32(v)), err
}

// Float64Codec encodes a big-endian IEEE-754 float64 via its bit pattern.
type Float64Codec struct{}

func (Float64Codec) FixedSize() (int64, bool) { return 8, true }
func (Float64Codec) Size(float64) int64       { return 8 }
func (Float64Codec) Encode(v float64, w *buffer.OutputStream) error {
	return w.WriteI64(int64(math.Float64bits(v)))
}
func (Float64Codec) Decode(r *buffer.InputStream) (float64, error) {
	v, err := r.ReadI64()
	return math.Float64frombits(uint64(v)), err
}

// ByteSliceCodec encodes a []byte as a 4-byte big-endian length prefix
// followed by the raw bytes.
type ByteSliceCodec struct{}

func (ByteSliceCodec) FixedSize() (int64, bool) { return 0, false }
func (ByteSliceCodec) Size(v []byte) int64      { return 4 + int64(len(v)) }
func (ByteSliceCodec) Encode(v []byte, w *buffer.OutputStream) error {
	if err := w.WriteI32(int32(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}
func (ByteSliceCodec) Decode(r *buffer.InputStream) ([]byte, error) {
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Uint16SliceCodec encodes a []uint16 ("char array") as a 4-byte
// big-endian length prefix followed by that many big-endian uint16s.
type Uint16SliceCodec struct{}

func (Uint16SliceCodec) FixedSize() (int64, bool) { return 0, false }
func (Uint16SliceCodec) Size(v []uint16) int64     { return 4 + 2*int64(len(v)) }
func (Uint16SliceCodec) Encode(v []uint16, w *buffer.OutputStream) error {
	if err := w.WriteI32(int32(len(v))); err != nil {
		return err
	}
	for _, c := range v {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], c)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}
func (Uint16SliceCodec) Decode(r *buffer.InputStream) ([]uint16, error) {
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		var b [2]byte
		if _, err := r.Read(b[:]); err != nil {
			return nil, err
		}
		out[i] = binary.BigEndian.Uint16(b[:])
	}
	return out, nil
}
