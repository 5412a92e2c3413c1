// Package lumahost hosts a single LV2 plugin with an X11 GUI on top of a
// JACK client. The package implements the real-time bridge between the
// audio callback and the rest of the host: the port model, the lock-free
// ring-buffer protocol between the DSP and UI threads, and the background
// worker servicing plugin-scheduled work. The catalogue, the DSP instance
// and the GUI are opaque native modules reached through the DSP/UI
// interfaces below; the lv2 and ui packages provide the production
// implementations.
package lumahost

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/xthexder/go-jack"

	"github.com/shaban/lumahost/atom"
	"github.com/shaban/lumahost/urid"
	"github.com/shaban/lumahost/xwin"
)

// DSP is the instantiated plugin as the audio callback drives it.
// ConnectPort and Run are called on the audio thread every cycle.
type DSP interface {
	ConnectPort(index uint32, buf unsafe.Pointer)
	Run(nframes uint32)
	Activate()
	Deactivate()
	// Worker returns the plugin's worker extension, nil when the plugin
	// does not declare one.
	Worker() WorkerInterface
	Free()
}

// WorkerInterface mirrors the plugin's worker extension. Work runs on the
// host's worker goroutine and may call respond zero or more times;
// WorkResponse is always invoked on the audio thread.
type WorkerInterface interface {
	Work(respond RespondFunc, data []byte) error
	WorkResponse(data []byte) error
}

// RespondFunc queues a response for delivery back to the plugin at the
// end of an audio cycle.
type RespondFunc func(data []byte) error

// UI is the instantiated plugin GUI as the UI loop drives it.
type UI interface {
	PortEvent(portIndex uint32, format uint32, buffer []byte)
	Idle()
	Cleanup()
	// Widget is the X11 window id of the plugin's widget.
	Widget() uint32
}

// PresetInfo identifies one catalogued preset.
type PresetInfo struct {
	URI   string
	Label string
}

// UIInfo locates a plugin's X11 UI bundle.
type UIInfo struct {
	URI        string
	BinaryPath string
	BundlePath string
}

// InstantiateOptions carries the host services negotiated into the
// plugin's feature table.
type InstantiateOptions struct {
	Registry       *urid.Registry
	MaxBlockLength uint32
	// ScheduleWork enqueues plugin work requests; callable from the
	// audio thread.
	ScheduleWork func(data []byte) error
}

// Plugin is one catalogue entry with everything the host needs from it.
// The lv2 package implements it over lilv.
type Plugin interface {
	URI() string
	Name() string
	Ports() []PortInfo
	Instantiate(sampleRate float64, opts InstantiateOptions) (DSP, error)
	Presets() ([]PresetInfo, error)
	RestorePreset(uri string, setPortValue func(symbol string, value float32)) error
	SelectX11UI() (UIInfo, bool)
	Close()
}

// UIHostCallbacks are the host services handed to the plugin UI at
// instantiation time.
type UIHostCallbacks struct {
	PluginURI    string
	ParentWindow uint32
	Write        func(port uint32, typ uint32, buf []byte)
	PortIndex    func(uri string) uint32
	Resize       func(width, height int) bool
	Map          func(uri string) uint32
	Unmap        func(id uint32) (string, bool)
}

// UILoader instantiates a plugin UI. The ui package provides the purego
// implementation; tests substitute fakes.
type UILoader func(info UIInfo, cb UIHostCallbacks) (UI, error)

// InvalidPortIndex is returned by the UI port-index lookup for unknown
// port URIs.
const InvalidPortIndex = ^uint32(0)

type knownURIDs struct {
	atomEventTransfer uint32
	atomSequence      uint32
	atomBlank         uint32
	atomChunk         uint32
	atomObject        uint32
	atomFloat         uint32
	atomInt           uint32
	atomPath          uint32
	midiEvent         uint32
	patchGet          uint32
	patchSet          uint32
	patchProperty     uint32
	patchValue        uint32
}

func mapKnownURIDs(reg *urid.Registry) knownURIDs {
	return knownURIDs{
		atomEventTransfer: reg.Map(atom.URIEventTransfer),
		atomSequence:      reg.Map(atom.URISequence),
		atomBlank:         reg.Map(atom.URIBlank),
		atomChunk:         reg.Map(atom.URIChunk),
		atomObject:        reg.Map(atom.URIObject),
		atomFloat:         reg.Map(atom.URIFloat),
		atomInt:           reg.Map(atom.URIInt),
		atomPath:          reg.Map(atom.URIPath),
		midiEvent:         reg.Map(atom.URIMidiEvent),
		patchGet:          reg.Map(atom.URIPatchGet),
		patchSet:          reg.Map(atom.URIPatchSet),
		patchProperty:     reg.Map(atom.URIPatchProperty),
		patchValue:        reg.Map(atom.URIPatchValue),
	}
}

// Host owns one plugin instance and every bridge around it.
type Host struct {
	plugin Plugin

	Reg   *urid.Registry
	urids knownURIDs

	ports  []*Port
	dsp    DSP
	worker *Worker
	ui     UI
	win    *xwin.Window

	client      *jack.Client
	sampleRate  float64
	maxBlock    uint32
	atomBufSize uint32

	presetURI   string
	presetLabel string

	uiScratch []byte

	uiDirty              atomic.Bool
	uiNeedsInitialUpdate atomic.Bool
	uiNeedsControlUpdate atomic.Bool
	running              atomic.Bool
	shut                 atomic.Bool

	errh ErrorHandler

	// MidiDebug enables decoding of MIDI events drained towards the UI
	// into the lumahost:midi debug log.
	MidiDebug bool
}

// New creates a host around a catalogue entry. Init must be called before
// the host can process audio.
func New(plug Plugin) *Host {
	h := &Host{
		plugin:      plug,
		Reg:         urid.NewRegistry(),
		atomBufSize: defaultAtomBufferSize,
		errh:        DefaultErrorHandler{},
	}
	h.urids = mapKnownURIDs(h.Reg)
	return h
}

// SetErrorHandler replaces the handler for non-fatal runtime errors.
func (h *Host) SetErrorHandler(eh ErrorHandler) {
	if eh != nil {
		h.errh = eh
	}
}

// Ports exposes the port model; the slice and its entries are stable
// after Init.
func (h *Host) Ports() []*Port { return h.ports }

// PluginName returns the catalogue display name of the hosted plugin.
func (h *Host) PluginName() string { return h.plugin.Name() }

// SampleRate returns the JACK sample rate captured at Init.
func (h *Host) SampleRate() float64 { return h.sampleRate }

// Init assembles the host in the fixed bring-up order: atom sizing, JACK
// client, port model, plugin instantiation, worker, port connection,
// activation. The first failure halts init; Close cleans up whatever was
// built.
func (h *Host) Init() error {
	infos := h.plugin.Ports()
	for _, info := range infos {
		if info.Atom && info.MinimumSize > h.atomBufSize {
			h.atomBufSize = info.MinimumSize
		}
	}

	if err := h.initJack(h.plugin.Name()); err != nil {
		return err
	}
	if err := h.buildPorts(infos); err != nil {
		return err
	}

	dsp, err := h.plugin.Instantiate(h.sampleRate, InstantiateOptions{
		Registry:       h.Reg,
		MaxBlockLength: h.maxBlock,
		ScheduleWork:   h.scheduleWork,
	})
	if err != nil {
		return fmt.Errorf("failed to instantiate %s: %w", h.plugin.URI(), err)
	}
	h.dsp = dsp

	if wi := dsp.Worker(); wi != nil {
		h.worker = NewWorker(wi)
		h.worker.errh = h.errh
		h.worker.Start()
	}

	h.connectPorts()
	h.dsp.Activate()
	return nil
}

// InitUI selects the plugin's X11 UI, creates the host window, loads the
// UI through the given loader and activates the JACK client.
func (h *Host) InitUI(load UILoader) error {
	info, ok := h.plugin.SelectX11UI()
	if !ok {
		return errors.New("no X11 UI available for " + h.plugin.URI())
	}

	title := h.plugin.Name()
	if h.presetLabel != "" {
		title += " - " + h.presetLabel
	}
	win, err := xwin.Create(title, 640, 480)
	if err != nil {
		return err
	}
	h.win = win

	u, err := load(info, UIHostCallbacks{
		PluginURI:    h.plugin.URI(),
		ParentWindow: win.ID(),
		Write:        h.WriteFromUI,
		PortIndex:    h.portIndexByURI,
		Resize:       win.Resize,
		Map:          h.Reg.Map,
		Unmap:        h.Reg.Unmap,
	})
	if err != nil {
		return fmt.Errorf("failed to load UI %s: %w", info.URI, err)
	}
	h.ui = u
	win.SetDndProxy(u.Widget())

	if h.presetURI == "" {
		h.uiNeedsInitialUpdate.Store(true)
	}
	return h.activateClient()
}

func (h *Host) scheduleWork(data []byte) error {
	if h.worker == nil {
		return ErrNoSpace
	}
	return h.worker.ScheduleWork(data)
}

func (h *Host) connectPorts() {
	for _, p := range h.ports {
		switch {
		case p.Info.Control:
			h.dsp.ConnectPort(p.Info.Index, p.controlPtr())
		case p.Info.Atom:
			h.dsp.ConnectPort(p.Info.Index, p.Buf.Ptr())
		}
	}
}

func (h *Host) portIndexByURI(uri string) uint32 {
	for _, p := range h.ports {
		if p.Info.URI == uri {
			return p.Info.Index
		}
	}
	return InvalidPortIndex
}

// WriteFromUI is the plugin UI's write callback. Control-sized writes land
// directly in the port's control cell; atom writes fill the one-shot
// UI→DSP cell consumed at the next audio cycle.
func (h *Host) WriteFromUI(port uint32, typ uint32, buf []byte) {
	if int(port) >= len(h.ports) {
		return
	}
	p := h.ports[port]

	if p.Info.Control && len(buf) == 4 {
		p.setControl(float32FromBytes(buf))
		return
	}

	if p.Info.Atom && p.State != nil {
		s := p.State
		s.uiToDSP = append(s.uiToDSP[:0], buf...)
		s.uiToDSPType = typ
		s.pending.Store(true)
	}
}

// Close tears the host down: deactivate the plugin, stop the worker,
// destroy the UI, drop the JACK client, free the instance, destroy the
// window and release the plugin world. Every step checks its own
// precondition, so Close is idempotent and safe after partial init.
func (h *Host) Close() {
	h.shut.Store(true)
	h.running.Store(false)

	if h.dsp != nil {
		h.dsp.Deactivate()
	}
	if h.worker != nil {
		h.worker.Stop()
		h.worker = nil
	}
	if h.ui != nil {
		h.ui.Cleanup()
		h.ui = nil
	}
	h.closeJack()
	if h.dsp != nil {
		h.dsp.Free()
		h.dsp = nil
	}
	if h.win != nil {
		h.win.Close()
		h.win = nil
	}
	for _, p := range h.ports {
		p.Buf = nil
		p.State = nil
	}
	h.ports = nil
	if h.plugin != nil {
		h.plugin.Close()
		h.plugin = nil
	}
}
