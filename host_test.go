package lumahost

import (
	"sync"
	"unsafe"
)

// fakeDSP stands in for a plugin instance; tests script its run behaviour
// through onRun.
type fakeDSP struct {
	connected map[uint32]unsafe.Pointer
	onRun     func(d *fakeDSP, nframes uint32)
	runs      int

	worker WorkerInterface

	activated   bool
	deactivated bool
	freed       bool
}

func newFakeDSP() *fakeDSP {
	return &fakeDSP{connected: make(map[uint32]unsafe.Pointer)}
}

func (d *fakeDSP) ConnectPort(index uint32, buf unsafe.Pointer) { d.connected[index] = buf }

func (d *fakeDSP) Run(nframes uint32) {
	d.runs++
	if d.onRun != nil {
		d.onRun(d, nframes)
	}
}

func (d *fakeDSP) Activate()   { d.activated = true }
func (d *fakeDSP) Deactivate() { d.deactivated = true }
func (d *fakeDSP) Free()       { d.freed = true }

func (d *fakeDSP) Worker() WorkerInterface { return d.worker }

// controlBuf reads the float cell a control port was connected with.
func (d *fakeDSP) controlBuf(index uint32) float32 {
	return *(*float32)(d.connected[index])
}

// fakePlugin is an in-process catalogue entry.
type fakePlugin struct {
	uri     string
	name    string
	infos   []PortInfo
	dsp     *fakeDSP
	presets []PresetInfo
	restore func(uri string, set func(string, float32)) error

	lastOpts InstantiateOptions
	closed   bool
}

func (f *fakePlugin) URI() string       { return f.uri }
func (f *fakePlugin) Name() string      { return f.name }
func (f *fakePlugin) Ports() []PortInfo { return f.infos }

func (f *fakePlugin) Instantiate(sampleRate float64, opts InstantiateOptions) (DSP, error) {
	f.lastOpts = opts
	return f.dsp, nil
}

func (f *fakePlugin) Presets() ([]PresetInfo, error) { return f.presets, nil }

func (f *fakePlugin) RestorePreset(uri string, set func(string, float32)) error {
	if f.restore == nil {
		return nil
	}
	return f.restore(uri, set)
}

func (f *fakePlugin) SelectX11UI() (UIInfo, bool) { return UIInfo{}, false }
func (f *fakePlugin) Close()                      { f.closed = true }

// newTestHost assembles a host around fakes, without a sound server: the
// port model is built, the fake DSP instantiated and connected, and the
// worker started when the fake declares one.
func newTestHost(plug *fakePlugin) *Host {
	h := New(plug)
	for _, info := range plug.infos {
		if info.Atom && info.MinimumSize > h.atomBufSize {
			h.atomBufSize = info.MinimumSize
		}
	}
	if err := h.buildPorts(plug.infos); err != nil {
		panic(err)
	}
	dsp, err := plug.Instantiate(48000, InstantiateOptions{
		Registry:       h.Reg,
		MaxBlockLength: 256,
		ScheduleWork:   h.scheduleWork,
	})
	if err != nil {
		panic(err)
	}
	h.dsp = dsp
	if wi := dsp.Worker(); wi != nil {
		h.worker = NewWorker(wi)
		h.worker.Start()
	}
	h.connectPorts()
	h.dsp.Activate()
	return h
}

// fakeUI records the port events the host broadcasts.
type fakeUI struct {
	mu      sync.Mutex
	events  []uiEvent
	idles   int
	cleaned bool
}

type uiEvent struct {
	port   uint32
	format uint32
	data   []byte
}

func (u *fakeUI) PortEvent(port uint32, format uint32, buffer []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, uiEvent{port: port, format: format, data: append([]byte(nil), buffer...)})
}

func (u *fakeUI) Idle() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.idles++
}

func (u *fakeUI) Cleanup() { u.cleaned = true }

func (u *fakeUI) Widget() uint32 { return 0 }

func (u *fakeUI) take() []uiEvent {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.events
	u.events = nil
	return out
}
