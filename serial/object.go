package serial

import (
	"bytes"
	"encoding/gob"

	"github.com/ao-apps/ao-persistence/buffer"
)

// ObjectCodec is the opaque fallback codec for any type T with no
// built-in or registered Codec: it gob-encodes the value and writes a
// 4-byte big-endian length prefix ahead of the encoded bytes.
type ObjectCodec[T any] struct{}

func (ObjectCodec[T]) FixedSize() (int64, bool) { return 0, false }

func (ObjectCodec[T]) Size(v T) int64 {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(v)
	return 4 + int64(buf.Len())
}

func (ObjectCodec[T]) Encode(v T, w *buffer.OutputStream) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	if err := w.WriteI32(int32(buf.Len())); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (ObjectCodec[T]) Decode(r *buffer.InputStream) (T, error) {
	var zero T
	n, err := r.ReadI32()
	if err != nil {
		return zero, err
	}
	raw := make([]byte, n)
	if _, err := r.Read(raw); err != nil {
		return zero, err
	}
	var v T
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return zero, err
	}
	return v, nil
}
