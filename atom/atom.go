// Package atom frames plugin event buffers the way the LV2 C ABI lays
// them out in memory. A buffer is a contiguous 64-byte-aligned region
// holding one atom sequence: an 8-byte atom header {size, type}, an 8-byte
// sequence body {unit, pad}, then zero or more events, each an 8-byte
// frame time, an 8-byte atom header and a body padded to 8 bytes. All
// fields are little-endian, matching the ABI of the targets the host runs
// on.
//
// The package manipulates the region as raw bytes with explicit offsets;
// no Go struct ever mirrors the C layout, so there is nothing to keep in
// sync with compiler padding rules.
package atom

import (
	"encoding/binary"
	"unsafe"
)

// Well-known URIs the host maps at startup.
const (
	URISequence      = "http://lv2plug.in/ns/ext/atom#Sequence"
	URIChunk         = "http://lv2plug.in/ns/ext/atom#Chunk"
	URIObject        = "http://lv2plug.in/ns/ext/atom#Object"
	URIBlank         = "http://lv2plug.in/ns/ext/atom#Blank"
	URIFloat         = "http://lv2plug.in/ns/ext/atom#Float"
	URIInt           = "http://lv2plug.in/ns/ext/atom#Int"
	URIPath          = "http://lv2plug.in/ns/ext/atom#Path"
	URIEventTransfer = "http://lv2plug.in/ns/ext/atom#eventTransfer"
	URIMidiEvent     = "http://lv2plug.in/ns/ext/midi#MidiEvent"
	URIPatchGet      = "http://lv2plug.in/ns/ext/patch#Get"
	URIPatchSet      = "http://lv2plug.in/ns/ext/patch#Set"
	URIPatchProperty = "http://lv2plug.in/ns/ext/patch#property"
	URIPatchValue    = "http://lv2plug.in/ns/ext/patch#value"
)

const (
	// HeaderSize is the atom header: u32 size, u32 type.
	HeaderSize = 8
	// SequenceBodySize is the sequence body: u32 unit, u32 pad.
	SequenceBodySize = 8
	// EventHeaderSize is an event's i64 frame time plus its atom header.
	EventHeaderSize = 16
	// EventsStart is the offset of the first event within a sequence
	// buffer.
	EventsStart = HeaderSize + SequenceBodySize
	// BufferAlign is the alignment of the buffer itself.
	BufferAlign = 64
)

// Pad rounds n up to the event alignment of 8 bytes.
func Pad(n uint32) uint32 { return (n + 7) &^ 7 }

// Event is one entry of a sequence. Body aliases the buffer; callers that
// keep it past the current cycle must copy.
type Event struct {
	Frames int64
	Type   uint32
	Body   []byte
}

// Buffer is an aligned region framed as an atom sequence.
type Buffer struct {
	mem []byte
	buf []byte
}

// NewBuffer allocates an aligned buffer of the given capacity.
func NewBuffer(capacity uint32) *Buffer {
	mem := make([]byte, capacity+BufferAlign)
	addr := uintptr(unsafe.Pointer(&mem[0]))
	off := int((BufferAlign - addr%BufferAlign) % BufferAlign)
	return &Buffer{mem: mem, buf: mem[off : off+int(capacity)]}
}

// Wrap frames an existing region as a sequence buffer. The region must be
// 8-byte aligned and at least HeaderSize+SequenceBodySize long.
func Wrap(region []byte) *Buffer {
	return &Buffer{buf: region}
}

// Bytes returns the aligned region.
func (b *Buffer) Bytes() []byte { return b.buf }

// Ptr returns the address of the region for connecting the plugin port.
func (b *Buffer) Ptr() unsafe.Pointer { return unsafe.Pointer(&b.buf[0]) }

// Capacity returns the size of the region.
func (b *Buffer) Capacity() uint32 { return uint32(len(b.buf)) }

// Size returns the atom header's size field: the byte count following the
// header, including the sequence body.
func (b *Buffer) Size() uint32 { return binary.LittleEndian.Uint32(b.buf[0:4]) }

// SetSize overwrites the atom header's size field.
func (b *Buffer) SetSize(size uint32) { binary.LittleEndian.PutUint32(b.buf[0:4], size) }

// Type returns the atom header's type field.
func (b *Buffer) Type() uint32 { return binary.LittleEndian.Uint32(b.buf[4:8]) }

// SetHeader overwrites both atom header fields.
func (b *Buffer) SetHeader(size, typ uint32) {
	binary.LittleEndian.PutUint32(b.buf[0:4], size)
	binary.LittleEndian.PutUint32(b.buf[4:8], typ)
}

// PrepareInput resets the buffer to an empty sequence ready for events:
// type is the sequence URID, size covers just the sequence body, unit and
// pad are zero.
func (b *Buffer) PrepareInput(sequenceType uint32) {
	b.SetHeader(SequenceBodySize, sequenceType)
	binary.LittleEndian.PutUint32(b.buf[8:12], 0)
	binary.LittleEndian.PutUint32(b.buf[12:16], 0)
}

// PrepareOutput marks the buffer as writable by the plugin: type 0 flags
// it as not-yet-written and size advertises the free capacity after the
// header.
func (b *Buffer) PrepareOutput() {
	b.SetHeader(b.Capacity()-HeaderSize, 0)
}

// AppendEvent adds one event to the sequence. It reports false without
// touching the buffer when the event does not fit. The buffer must have
// been prepared with PrepareInput (or already hold a valid sequence).
func (b *Buffer) AppendEvent(frames int64, typ uint32, body []byte) bool {
	size := b.Size()
	if size < SequenceBodySize {
		return false
	}
	off := uint32(HeaderSize) + Pad(size)
	total := uint32(EventHeaderSize) + uint32(len(body))
	if off+total > b.Capacity() {
		return false
	}
	binary.LittleEndian.PutUint64(b.buf[off:off+8], uint64(frames))
	binary.LittleEndian.PutUint32(b.buf[off+8:off+12], uint32(len(body)))
	binary.LittleEndian.PutUint32(b.buf[off+12:off+16], typ)
	copy(b.buf[off+EventHeaderSize:], body)
	b.SetSize(size + Pad(total))
	return true
}

// NextEvent decodes the event at byte offset off (start iteration at
// EventsStart) and returns it with the offset of the following event.
// ok is false when off lies at or beyond the end of the sequence or when
// the event would overrun the region. Bounds are checked against both
// the declared sequence size and the buffer capacity, so a plugin that
// overruns its advertised space cannot walk the host out of the region.
// The call performs no allocation and is safe on the audio thread.
func (b *Buffer) NextEvent(off uint32) (ev Event, next uint32, ok bool) {
	end := uint32(HeaderSize) + b.Size()
	if c := b.Capacity(); end > c {
		end = c
	}
	if off < EventsStart || off+EventHeaderSize > end {
		return Event{}, 0, false
	}
	bodySize := binary.LittleEndian.Uint32(b.buf[off+8 : off+12])
	bodyOff := off + EventHeaderSize
	if bodyOff+bodySize > end {
		return Event{}, 0, false
	}
	ev = Event{
		Frames: int64(binary.LittleEndian.Uint64(b.buf[off : off+8])),
		Type:   binary.LittleEndian.Uint32(b.buf[off+12 : off+16]),
		Body:   b.buf[bodyOff : bodyOff+bodySize],
	}
	return ev, off + EventHeaderSize + Pad(bodySize), true
}

// ForEachEvent walks the sequence in order, calling fn for each event
// until fn returns false.
func (b *Buffer) ForEachEvent(fn func(Event) bool) {
	off := uint32(EventsStart)
	for {
		ev, next, ok := b.NextEvent(off)
		if !ok {
			return
		}
		if !fn(ev) {
			return
		}
		off = next
	}
}

// EventCount walks the sequence and returns the number of events.
func (b *Buffer) EventCount() int {
	n := 0
	b.ForEachEvent(func(Event) bool {
		n++
		return true
	})
	return n
}
