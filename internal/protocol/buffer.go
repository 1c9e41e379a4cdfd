package protocol

import "encoding/binary"

// Buffer is an append-only encode buffer. len of the backing slice is the used
// length and cap its capacity.
type Buffer struct {
	buf []byte
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, 0, capacity)}
}

func (b *Buffer) Len() int      { return len(b.buf) }
func (b *Buffer) Cap() int      { return cap(b.buf) }
func (b *Buffer) Bytes() []byte { return b.buf }
func (b *Buffer) Reset()        { b.buf = b.buf[:0] }

// Grow makes room for n more bytes. Capacity doubles, or grows by exactly the
// deficit when doubling is not enough.
func (b *Buffer) Grow(n int) {
	if n <= cap(b.buf)-len(b.buf) {
		return
	}
	next := cap(b.buf) * 2
	if need := len(b.buf) + n; need > next {
		next = need
	}
	grown := make([]byte, len(b.buf), next)
	copy(grown, b.buf)
	b.buf = grown
}

func (b *Buffer) PutUint8(v uint8) {
	b.Grow(1)
	b.buf = append(b.buf, v)
}

func (b *Buffer) PutUint16(v uint16) {
	b.Grow(2)
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
}

func (b *Buffer) PutUint32(v uint32) {
	b.Grow(4)
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
}

func (b *Buffer) PutBytes(p []byte) {
	b.Grow(len(p))
	b.buf = append(b.buf, p...)
}

func (b *Buffer) PutString(s string) {
	b.Grow(len(s))
	b.buf = append(b.buf, s...)
}

// Reader is a bounds-checked view over an encoded byte slice.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Peek returns the next byte without consuming it.
func (r *Reader) Peek() (uint8, bool) {
	if r.Remaining() < 1 {
		return 0, false
	}
	return r.data[r.off], true
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Next consumes n bytes and returns them as a view into the underlying slice.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}
