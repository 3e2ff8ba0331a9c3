// Package serial implements element serializers (spec.md §6's
// "Serializer interface" external collaborator): byte-level codecs for
// individual list element values, selected by a type registry.
package serial

import (
	"reflect"

	"github.com/ao-apps/ao-persistence/buffer"
)

// Codec serializes and deserializes values of type T to and from a
// list entry's payload region.
type Codec[T any] interface {
	// FixedSize returns the encoded size in bytes and true if every
	// value of T encodes to the same size; otherwise false.
	FixedSize() (int64, bool)

	// Size returns the number of bytes Encode would write for v.
	Size(v T) int64

	// Encode writes v to w.
	Encode(v T, w *buffer.OutputStream) error

	// Decode reads one value of T from r.
	Decode(r *buffer.InputStream) (T, error)
}

// Registry maps a reflect.Type to the any-erased codec for it. A
// PersistentLinkedList holds no Registry: the caller resolves a
// Codec[T] from one and passes that codec to list.Open.
type Registry struct {
	byType map[reflect.Type]any
}

// NewRegistry returns a Registry pre-populated with every built-in
// primitive codec (primitives.go) and object fallback (object.go).
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[reflect.Type]any)}
	registerPrimitives(r)
	return r
}

// Register installs codec as the Codec[T] for type T, overriding any
// built-in for the same type.
func Register[T any](r *Registry, codec Codec[T]) {
	var zero T
	r.byType[reflect.TypeOf(zero)] = codec
}

// Lookup returns the registered Codec[T] for type T, or ok=false if
// none is registered (callers fall back to ObjectCodec[T]).
func Lookup[T any](r *Registry) (codec Codec[T], ok bool) {
	var zero T
	v, present := r.byType[reflect.TypeOf(zero)]
	if !present {
		return codec, false
	}
	codec, ok = v.(Codec[T])
	return codec, ok
}

// Resolve returns the registered Codec[T], falling back to
// ObjectCodec[T] (gob-based) when no built-in or user codec is
// registered for T.
func Resolve[T any](r *Registry) Codec[T] {
	if c, ok := Lookup[T](r); ok {
		return c
	}
	return ObjectCodec[T]{}
}
