package internal

import (
	"io"

	tcp "github.com/sjy-dv/routepool/tcpcore"
)

var ErrTooLarge = tcp.ErrTooLarge

// ReadBuffer accumulates stream data ahead of frame decoding. It grows by
// doubling up to max and compacts consumed space before refusing to grow.
type ReadBuffer struct {
	src   io.Reader
	buf   []byte
	max   int // buf never grows past this
	begin int // unread data start, [)
	end   int // unread data end, [)
}

func NewReadBuffer(src io.Reader, size, max int) *ReadBuffer {
	return &ReadBuffer{
		src: src,
		buf: make([]byte, size),
		max: max,
	}
}

func (b *ReadBuffer) Release() {
	b.src = nil
	b.buf = nil
}

// Len is the number of buffered unread bytes.
func (b *ReadBuffer) Len() int {
	return b.end - b.begin
}

// Data exposes the unread bytes without consuming them.
func (b *ReadBuffer) Data() []byte {
	return b.buf[b.begin:b.end]
}

// Consume discards skip bytes, then copies the next n bytes into out.
// Caller guarantees b.Len() >= skip+n.
func (b *ReadBuffer) Consume(skip, n int, out []byte) {
	b.begin += skip
	copy(out, b.buf[b.begin:b.begin+n])
	b.begin += n
}

// Fill reads once from the underlying reader into free space.
func (b *ReadBuffer) Fill() (int, error) {
	if !b.grow() {
		return 0, ErrTooLarge
	}
	n, err := b.src.Read(b.buf[b.end:])
	if err != nil {
		return n, err
	}
	b.end += n
	return n, nil
}

// grow makes free space available at the tail, compacting or doubling as
// needed, and reports false once max is hit with no space to reclaim.
func (b *ReadBuffer) grow() bool {
	if b.begin == b.end {
		b.begin, b.end = 0, 0
	}
	if b.begin > 0 {
		copy(b.buf, b.buf[b.begin:b.end])
		b.end -= b.begin
		b.begin = 0
	}
	if b.end < len(b.buf) {
		return true
	}
	if b.end >= b.max {
		return false
	}
	double := len(b.buf) * 2
	if double > b.max {
		double = b.max
	}
	buf := make([]byte, double)
	copy(buf, b.buf[:b.end])
	b.buf = buf
	return true
}
