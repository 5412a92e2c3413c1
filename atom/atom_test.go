package atom

import (
	"bytes"
	"testing"
	"unsafe"
)

const seqURID = 7

func TestNewBufferAlignment(t *testing.T) {
	for i := 0; i < 16; i++ {
		b := NewBuffer(8192)
		if addr := uintptr(b.Ptr()); addr%BufferAlign != 0 {
			t.Fatalf("buffer %d not %d-byte aligned: %#x", i, BufferAlign, addr)
		}
		if b.Capacity() != 8192 {
			t.Fatalf("Capacity = %d, want 8192", b.Capacity())
		}
	}
}

func TestPad(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 8, 3: 8, 8: 8, 9: 16, 16: 16, 17: 24}
	for in, want := range cases {
		if got := Pad(in); got != want {
			t.Errorf("Pad(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPrepareInput(t *testing.T) {
	b := NewBuffer(256)
	b.PrepareInput(seqURID)
	if b.Size() != SequenceBodySize {
		t.Fatalf("Size = %d, want %d", b.Size(), SequenceBodySize)
	}
	if b.Type() != seqURID {
		t.Fatalf("Type = %d, want %d", b.Type(), seqURID)
	}
	if b.EventCount() != 0 {
		t.Fatalf("fresh sequence holds %d events", b.EventCount())
	}
}

func TestPrepareOutputAdvertisesFreeSpace(t *testing.T) {
	b := NewBuffer(256)
	b.PrepareOutput()
	if b.Type() != 0 {
		t.Fatalf("Type = %d, want 0", b.Type())
	}
	if b.Size() != 256-HeaderSize {
		t.Fatalf("Size = %d, want %d", b.Size(), 256-HeaderSize)
	}
}

func TestAppendAndIterate(t *testing.T) {
	b := NewBuffer(256)
	b.PrepareInput(seqURID)

	events := []struct {
		frames int64
		typ    uint32
		body   []byte
	}{
		{0, 11, []byte{0x90, 0x3C, 0x7F}},
		{64, 11, []byte{0x80, 0x3C, 0x00}},
		{128, 12, []byte("an eight.byte body!")},
	}
	for _, ev := range events {
		if !b.AppendEvent(ev.frames, ev.typ, ev.body) {
			t.Fatalf("append of %d-byte body failed", len(ev.body))
		}
	}

	i := 0
	b.ForEachEvent(func(ev Event) bool {
		want := events[i]
		if ev.Frames != want.frames || ev.Type != want.typ || !bytes.Equal(ev.Body, want.body) {
			t.Fatalf("event %d = {%d %d %x}, want {%d %d %x}",
				i, ev.Frames, ev.Type, ev.Body, want.frames, want.typ, want.body)
		}
		i++
		return true
	})
	if i != len(events) {
		t.Fatalf("iterated %d events, want %d", i, len(events))
	}
}

func TestAppendKeepsEventBodiesAligned(t *testing.T) {
	b := NewBuffer(256)
	b.PrepareInput(seqURID)
	b.AppendEvent(0, 11, []byte{1, 2, 3})
	b.AppendEvent(1, 11, []byte{4})

	base := uintptr(b.Ptr())
	b.ForEachEvent(func(ev Event) bool {
		addr := uintptr(unsafe.Pointer(&ev.Body[0]))
		// Body follows its 16-byte event header, so it starts 8-aligned.
		if (addr-base)%8 != 0 {
			t.Fatalf("event body at unaligned offset %d", addr-base)
		}
		return true
	})
}

func TestAppendRefusedWhenFull(t *testing.T) {
	b := NewBuffer(HeaderSize + SequenceBodySize + EventHeaderSize + 8)
	b.PrepareInput(seqURID)
	if !b.AppendEvent(0, 11, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("first event should fit exactly")
	}
	sizeBefore := b.Size()
	if b.AppendEvent(1, 11, []byte{9}) {
		t.Fatal("append into a full sequence should fail")
	}
	if b.Size() != sizeBefore {
		t.Fatal("failed append changed the sequence size")
	}
	if b.EventCount() != 1 {
		t.Fatalf("EventCount = %d, want 1", b.EventCount())
	}
}

func TestIteratorStopsAtDeclaredSize(t *testing.T) {
	b := NewBuffer(512)
	b.PrepareInput(seqURID)
	b.AppendEvent(0, 11, []byte{1, 2, 3})
	// Garbage beyond the declared size must not be interpreted as events.
	for i := 64; i < 128; i++ {
		b.Bytes()[i] = 0xFF
	}
	if got := b.EventCount(); got != 1 {
		t.Fatalf("EventCount = %d, want 1", got)
	}
}

func TestIteratorClampsOversizedSequence(t *testing.T) {
	b := NewBuffer(64)
	b.PrepareInput(seqURID)
	// A misbehaving plugin claims more payload than the region holds.
	b.SetSize(4096)
	b.ForEachEvent(func(ev Event) bool {
		if len(ev.Body) > 64 {
			t.Fatalf("iterator handed out a %d-byte body from a 64-byte region", len(ev.Body))
		}
		return true
	})
}

func TestWrapSharesRegion(t *testing.T) {
	backing := NewBuffer(128)
	w := Wrap(backing.Bytes())
	w.PrepareInput(seqURID)
	w.AppendEvent(5, 11, []byte{0xAB})

	if backing.EventCount() != 1 {
		t.Fatal("event appended through Wrap not visible through backing buffer")
	}
	backing.ForEachEvent(func(ev Event) bool {
		if ev.Frames != 5 || ev.Body[0] != 0xAB {
			t.Fatalf("unexpected event {%d %x}", ev.Frames, ev.Body)
		}
		return true
	})
}
