package lumahost

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/GeoffreyPlitt/debuggo"
	"gitlab.com/gomidi/midi/v2"
)

var (
	uiDebug       = debuggo.Debug("lumahost:ui")
	midiMonDebug  = debuggo.Debug("lumahost:midi")
	uiPollTimeout = 60 * time.Millisecond
)

// RunUILoop drives the cooperative UI loop on the calling goroutine until
// the window is closed or Stop is called. Each iteration pumps X11
// events, broadcasts control values the audio thread flagged, drains the
// DSP→UI rings into the plugin UI and runs its idle hook.
func (h *Host) RunUILoop() {
	h.running.Store(true)
	for h.running.Load() {
		time.Sleep(uiPollTimeout)

		if h.win != nil && h.win.CloseRequested() {
			fmt.Fprintln(os.Stderr, "Exit")
			h.shut.Store(true)
			h.running.Store(false)
			h.Close()
			return
		}

		h.uiIteration()
	}
}

// Stop makes RunUILoop return after its current iteration.
func (h *Host) Stop() { h.running.Store(false) }

func (h *Host) uiIteration() {
	if h.uiDirty.Swap(false) {
		h.sendControlOutputs()
	}
	if h.uiNeedsInitialUpdate.Swap(false) {
		h.sendInitialValues()
	}
	if h.uiNeedsControlUpdate.Swap(false) {
		h.sendControlValues()
	}
	h.drainUIRings()
	if h.ui != nil {
		h.ui.Idle()
	}
}

// sendInitialValues resets input controls to their defaults and
// broadcasts them, the first thing a freshly opened UI sees.
func (h *Host) sendInitialValues() {
	for _, p := range h.ports {
		if p.Info.Control && p.Info.Input {
			p.setControl(p.Info.Default)
			h.sendControl(p, p.Info.Default)
		}
	}
	uiDebug("sent initial control values")
}

// sendControlValues broadcasts the current input control values, used
// after a preset load rewrote the cells.
func (h *Host) sendControlValues() {
	for _, p := range h.ports {
		if p.Info.Control && p.Info.Input {
			h.sendControl(p, p.ControlValue())
		}
	}
}

// sendControlOutputs broadcasts the output control values the DSP
// produced.
func (h *Host) sendControlOutputs() {
	for _, p := range h.ports {
		if p.Info.Control && !p.Info.Input {
			h.sendControl(p, p.ControlValue())
		}
	}
}

func (h *Host) sendControl(p *Port, v float32) {
	if h.ui == nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	h.ui.PortEvent(p.Info.Index, 0, buf[:])
}

// drainUIRings forwards every complete [atom-header][body] frame from the
// output ports' rings to the UI's port-event callback, tagged with the
// atom event-transfer URID.
func (h *Host) drainUIRings() {
	for _, p := range h.ports {
		if !p.Info.Atom || p.Info.Input || p.State == nil {
			continue
		}
		ring := p.State.dspToUI
		for {
			var hdr [8]byte
			if !ring.Peek(hdr[:]) {
				break
			}
			size := binary.LittleEndian.Uint32(hdr[0:4])
			total := uint32(len(hdr)) + size
			if ring.ReadSpace() < total {
				break
			}
			if uint32(len(h.uiScratch)) < total {
				h.uiScratch = make([]byte, total)
			}
			buf := h.uiScratch[:total]
			ring.Read(buf)

			if h.MidiDebug && binary.LittleEndian.Uint32(hdr[4:8]) == h.urids.midiEvent {
				midiMonDebug("port %d: %s", p.Info.Index, midi.Message(buf[8:]).String())
			}
			if h.ui != nil {
				h.ui.PortEvent(p.Info.Index, h.urids.atomEventTransfer, buf)
			}
		}
	}
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
