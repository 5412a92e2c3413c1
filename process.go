package lumahost

import (
	"encoding/binary"
	"unsafe"

	"github.com/xthexder/go-jack"

	"github.com/shaban/lumahost/atom"
)

// process is the JACK callback: the host's real-time path. It may not
// allocate, block or take locks. Everything that touches JACK buffers
// happens here; the cycle protocol itself lives in runCycle so it can be
// exercised without a sound server.
func (h *Host) process(nframes uint32) int {
	if h.shut.Load() {
		return 0
	}

	for _, p := range h.ports {
		if p.Info.Audio && p.jackPort != nil {
			buf := p.jackPort.GetBuffer(nframes)
			samples := jack.GetAudioSamples(buf, nframes)
			if len(samples) > 0 {
				h.dsp.ConnectPort(p.Info.Index, unsafe.Pointer(&samples[0]))
			}
		}
		if p.Info.Atom && p.Info.Input && p.Info.Midi && p.jackPort != nil {
			buf := p.jackPort.GetBuffer(nframes)
			count := jack.MidiGetEventCount(buf)
			p.midiIn = p.midiIn[:0]
			for i := uint32(0); i < count; i++ {
				ev, err := jack.MidiEventGet(buf, i)
				if err != nil || len(ev.Buffer) == 0 {
					continue
				}
				if len(p.midiIn) == cap(p.midiIn) {
					break
				}
				p.midiIn = append(p.midiIn, MidiEvent{Time: ev.Time, Buffer: ev.Buffer})
			}
		}
	}

	h.runCycle(nframes)

	for _, p := range h.ports {
		if p.Info.Atom && !p.Info.Input && p.Info.Midi && p.jackPort != nil {
			buf := p.jackPort.GetBuffer(nframes)
			jack.MidiClearBuffer(buf)
			for i := range p.midiOut {
				jack.MidiEventWrite(buf, p.midiOut[i].Time, p.midiOut[i].Buffer)
			}
		}
	}
	return 0
}

// runCycle performs one audio cycle's port protocol in the required
// order: prepare atom buffers, run the plugin, deliver worker responses,
// drain output sequences towards the UI and reset the input sequences.
func (h *Host) runCycle(nframes uint32) {
	for _, p := range h.ports {
		if !p.Info.Atom {
			continue
		}
		if !p.Info.Input {
			p.Buf.PrepareOutput()
			continue
		}
		p.Buf.PrepareInput(h.urids.atomSequence)
		if p.Info.Midi {
			for i := range p.midiIn {
				ev := &p.midiIn[i]
				p.Buf.AppendEvent(int64(ev.Time), h.urids.midiEvent, ev.Buffer)
			}
		}
		if s := p.State; s != nil && s.pending.Swap(false) {
			p.Buf.AppendEvent(0, s.uiToDSPType, s.uiToDSP)
		}
	}

	h.dsp.Run(nframes)

	if h.worker != nil {
		h.worker.DrainResponses()
	}

	for _, p := range h.ports {
		if p.Info.Control && !p.Info.Input {
			h.uiDirty.Store(true)
		}
		if !p.Info.Atom {
			continue
		}
		if p.Info.Input {
			p.Buf.SetSize(0)
			continue
		}

		p.midiOut = p.midiOut[:0]
		if p.Buf.Type() != 0 {
			h.drainOutputSequence(p)
		}
		p.Buf.PrepareOutput()
	}
}

// drainOutputSequence copies every event the plugin wrote into the port's
// DSP→UI ring as [atom-header][body] and collects MIDI events for the
// JACK MIDI output. Events with an empty body are skipped. A full ring
// drops the event: UI delivery is best-effort. Runs on the audio thread
// and must not allocate.
func (h *Host) drainOutputSequence(p *Port) {
	ring := p.State.dspToUI
	off := uint32(atom.EventsStart)
	for {
		ev, next, ok := p.Buf.NextEvent(off)
		if !ok {
			return
		}
		if len(ev.Body) == 0 {
			off = next
			continue
		}
		total := uint32(atom.HeaderSize + len(ev.Body))
		if ring.WriteSpace() >= total {
			var hdr [atom.HeaderSize]byte
			binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(ev.Body)))
			binary.LittleEndian.PutUint32(hdr[4:8], ev.Type)
			ring.Write(hdr[:])
			ring.Write(ev.Body)
		}
		if ev.Type == h.urids.midiEvent && p.Info.Midi && len(p.midiOut) < cap(p.midiOut) {
			p.midiOut = append(p.midiOut, MidiEvent{Time: uint32(ev.Frames), Buffer: ev.Body})
		}
		off = next
	}
}
