package buffer

import "encoding/binary"

// InputStream is a bounded read cursor over a PersistentBuffer range,
// reporting underflow deterministically instead of silently short-reading.
type InputStream struct {
	buf    PersistentBuffer
	base   int64
	length int64
	off    int64
}

func newInputStream(buf PersistentBuffer, base, length int64) *InputStream {
	return &InputStream{buf: buf, base: base, length: length}
}

// Remaining returns the number of unread bytes left in the stream.
func (s *InputStream) Remaining() int64 { return s.length - s.off }

// Read implements io.Reader, bounded by the stream's length. A read that
// would need to cross the bound returns *UnderflowError instead of a short
// read.
func (s *InputStream) Read(p []byte) (int, error) {
	if int64(len(p)) > s.Remaining() {
		return 0, &UnderflowError{Op: "InputStream.Read"}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.buf.Get(s.base+s.off, p); err != nil {
		return 0, err
	}
	s.off += int64(len(p))
	return len(p), nil
}

// ReadByte reads a single byte.
func (s *InputStream) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := s.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadI32 reads a big-endian int32.
func (s *InputStream) ReadI32() (int32, error) {
	var b [4]byte
	if _, err := s.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// ReadI64 reads a big-endian int64.
func (s *InputStream) ReadI64() (int64, error) {
	var b [8]byte
	if _, err := s.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// OutputStream is a bounded write cursor over a PersistentBuffer range,
// reporting overflow deterministically.
type OutputStream struct {
	buf    PersistentBuffer
	base   int64
	length int64
	off    int64
}

func newOutputStream(buf PersistentBuffer, base, length int64) *OutputStream {
	return &OutputStream{buf: buf, base: base, length: length}
}

// Remaining returns the number of unwritten bytes left in the stream.
func (s *OutputStream) Remaining() int64 { return s.length - s.off }

// Write implements io.Writer, bounded by the stream's length.
func (s *OutputStream) Write(p []byte) (int, error) {
	if int64(len(p)) > s.Remaining() {
		return 0, &OverflowError{Op: "OutputStream.Write"}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.buf.Put(s.base+s.off, p); err != nil {
		return 0, err
	}
	s.off += int64(len(p))
	return len(p), nil
}

// WriteByte writes a single byte.
func (s *OutputStream) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// WriteI32 writes a big-endian int32.
func (s *OutputStream) WriteI32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := s.Write(b[:])
	return err
}

// WriteI64 writes a big-endian int64.
func (s *OutputStream) WriteI64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := s.Write(b[:])
	return err
}
