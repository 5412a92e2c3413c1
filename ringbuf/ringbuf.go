// Package ringbuf implements the byte FIFO that shuttles event frames
// between the audio thread and its two neighbours (the UI loop and the
// worker goroutine).
//
// The buffer is single-producer/single-reader and lock-free: the producer
// owns the write index, the reader owns the read index, and each side only
// ever loads the other's index. Index stores publish with release ordering
// and loads acquire, so a reader that observes an advanced write index also
// observes every byte of that write. Concurrent writers or concurrent
// readers are not supported.
//
// Every user of the buffer frames its payloads as [size: u32 LE][payload];
// the reader peeks the size first and waits until the whole frame is
// available, so a frame is never consumed half-written.
package ringbuf

import (
	"encoding/binary"
	"sync/atomic"
)

const cacheLine = 64

// Ring is a fixed-capacity byte FIFO. Indices are free-running uint32
// counters; the power-of-two mask turns them into buffer offsets.
type Ring struct {
	read  atomic.Uint32
	_     [cacheLine - 4]byte
	write atomic.Uint32
	_     [cacheLine - 4]byte

	buf  []byte
	mask uint32
}

// New creates a ring buffer able to hold size-1 bytes. size is rounded up
// to the next power of two.
func New(size uint32) *Ring {
	if size < 2 {
		size = 2
	}
	if size&(size-1) != 0 {
		p := uint32(1)
		for p < size {
			p <<= 1
		}
		size = p
	}
	return &Ring{buf: make([]byte, size), mask: size - 1}
}

// Capacity returns the total buffer size. One byte is kept free to
// distinguish full from empty, so at most Capacity()-1 bytes are readable
// at once.
func (r *Ring) Capacity() uint32 { return r.mask + 1 }

// WriteSpace returns the number of bytes that can currently be written.
// It may underestimate (a concurrent read frees space) but never
// overestimates.
func (r *Ring) WriteSpace() uint32 {
	w := r.write.Load()
	rd := r.read.Load()
	return r.mask - (w - rd)
}

// ReadSpace returns the number of bytes available for reading. It may
// underestimate (a concurrent write adds bytes) but never overestimates.
func (r *Ring) ReadSpace() uint32 {
	return r.write.Load() - r.read.Load()
}

// Write appends p to the buffer. It reports false, leaving the buffer
// untouched, when p does not fit.
func (r *Ring) Write(p []byte) bool {
	n := uint32(len(p))
	if n > r.WriteSpace() {
		return false
	}
	w := r.write.Load()
	off := w & r.mask
	head := copy(r.buf[off:], p)
	if uint32(head) < n {
		copy(r.buf, p[head:])
	}
	r.write.Store(w + n)
	return true
}

// Read copies len(p) bytes out of the buffer and advances the read index.
// It reports false, consuming nothing, when fewer bytes are available.
func (r *Ring) Read(p []byte) bool {
	if !r.Peek(p) {
		return false
	}
	r.read.Store(r.read.Load() + uint32(len(p)))
	return true
}

// Peek copies len(p) bytes out of the buffer without advancing the read
// index. It reports false when fewer bytes are available.
func (r *Ring) Peek(p []byte) bool {
	n := uint32(len(p))
	if n > r.ReadSpace() {
		return false
	}
	rd := r.read.Load()
	off := rd & r.mask
	head := copy(p, r.buf[off:])
	if uint32(head) < n {
		copy(p[head:], r.buf)
	}
	return true
}

// PeekSize reads the u32 length prefix of the next frame without consuming
// it. The second result is false when no complete prefix is available.
func (r *Ring) PeekSize() (uint32, bool) {
	var hdr [4]byte
	if !r.Peek(hdr[:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(hdr[:]), true
}

// WriteFrame writes a [size][payload] frame as one atomic unit. It reports
// false, writing nothing, when the whole frame does not fit.
func (r *Ring) WriteFrame(payload []byte) bool {
	total := 4 + uint32(len(payload))
	if total > r.WriteSpace() {
		return false
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	r.Write(hdr[:])
	r.Write(payload)
	return true
}

// ReadFrame consumes the next complete frame into dst and returns the
// payload slice. It returns nil when no complete frame is buffered or when
// dst is too small for the payload.
func (r *Ring) ReadFrame(dst []byte) []byte {
	size, ok := r.PeekSize()
	if !ok || r.ReadSpace() < 4+size {
		return nil
	}
	if uint32(len(dst)) < size {
		return nil
	}
	var hdr [4]byte
	r.Read(hdr[:])
	out := dst[:size]
	r.Read(out)
	return out
}
