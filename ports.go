package lumahost

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/xthexder/go-jack"

	"github.com/shaban/lumahost/atom"
	"github.com/shaban/lumahost/ringbuf"
)

const (
	// defaultAtomBufferSize suffices for typical event traffic; ports
	// declaring a larger minimumSize raise it for the whole host.
	defaultAtomBufferSize = 8192
	// dspToUIRingSize bounds the per-port DSP→UI event backlog.
	dspToUIRingSize = 16384
	// midiScratchEvents bounds how many MIDI events one cycle can carry
	// per port without allocating on the audio thread.
	midiScratchEvents = 128
)

// PortInfo is the catalogue metadata for one plugin port. Exactly one of
// Audio, Control and Atom is set, and Input distinguishes the direction;
// Midi marks atom ports that carry MIDI events.
type PortInfo struct {
	Index  uint32
	Symbol string
	URI    string

	Audio   bool
	Control bool
	Atom    bool
	Input   bool
	Midi    bool

	// Default is the initial value of input control ports.
	Default float32
	// MinimumSize is the atom buffer size the port requires, 0 if the
	// port declares none.
	MinimumSize uint32
}

// MidiEvent is one raw MIDI message stamped with its frame time inside
// the current cycle.
type MidiEvent struct {
	Time   uint32
	Buffer []byte
}

// AtomState carries the UI↔DSP channels of one atom port: a ring buffer
// towards the UI and a one-shot cell towards the DSP. The cell is
// last-write-wins; a pending message not yet consumed by the audio thread
// is overwritten by the next UI write.
type AtomState struct {
	dspToUI *ringbuf.Ring

	uiToDSP     []byte
	uiToDSPType uint32
	pending     atomic.Bool
}

// Port binds one plugin port to its host-side endpoint: a JACK port for
// audio and atom-MIDI ports, a control cell for control ports, an atom
// buffer plus AtomState for atom ports.
type Port struct {
	Info PortInfo

	// control is connected to the DSP and read there as a raw float;
	// Go-side access goes through ControlValue/setControl.
	control float32

	jackPort *jack.Port

	Buf   *atom.Buffer
	State *AtomState

	midiIn  []MidiEvent
	midiOut []MidiEvent
}

// ControlValue returns the current value of the port's control cell.
func (p *Port) ControlValue() float32 {
	return math.Float32frombits(atomic.LoadUint32((*uint32)(unsafe.Pointer(&p.control))))
}

func (p *Port) setControl(v float32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&p.control)), math.Float32bits(v))
}

func (p *Port) controlPtr() unsafe.Pointer { return unsafe.Pointer(&p.control) }

// buildPorts materialises the port model from the catalogue metadata and
// registers the JACK endpoints. Atom buffers are sized uniformly to
// h.atomBufSize, already raised to the largest declared minimumSize.
func (h *Host) buildPorts(infos []PortInfo) error {
	h.ports = make([]*Port, 0, len(infos))
	for _, info := range infos {
		p := &Port{Info: info}

		if h.client != nil && info.Audio {
			var err error
			if info.Input {
				p.jackPort, err = h.client.PortRegister(info.Symbol, jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
			} else {
				p.jackPort, err = h.client.PortRegister(info.Symbol, jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
			}
			if err != nil {
				return fmt.Errorf("failed to register audio port %s: %w", info.Symbol, err)
			}
		}

		if h.client != nil && info.Atom && info.Midi {
			var err error
			if info.Input {
				p.jackPort, err = h.client.PortRegister(info.Symbol, jack.DEFAULT_MIDI_TYPE, jack.PortIsInput, 0)
			} else {
				p.jackPort, err = h.client.PortRegister(info.Symbol, jack.DEFAULT_MIDI_TYPE, jack.PortIsOutput, 0)
			}
			if err != nil {
				return fmt.Errorf("failed to register MIDI port %s: %w", info.Symbol, err)
			}
		}

		if info.Atom {
			p.Buf = atom.NewBuffer(h.atomBufSize)
			if info.Input {
				p.Buf.PrepareInput(h.urids.atomSequence)
			} else {
				p.Buf.SetHeader(0, h.urids.atomSequence)
			}
			p.State = &AtomState{
				dspToUI: ringbuf.New(dspToUIRingSize),
				uiToDSP: make([]byte, 0, h.atomBufSize),
			}
			if info.Input && info.Midi {
				p.midiIn = make([]MidiEvent, 0, midiScratchEvents)
			}
			if !info.Input && info.Midi {
				p.midiOut = make([]MidiEvent, 0, midiScratchEvents)
			}
		}

		if info.Control && info.Input {
			p.setControl(info.Default)
		}

		h.ports = append(h.ports, p)
	}
	return nil
}
