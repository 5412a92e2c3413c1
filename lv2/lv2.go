// Package lv2 bridges the host to the lilv plugin catalogue and the LV2
// C ABI: world and plugin discovery, DSP instantiation with the host's
// feature table, the worker extension and preset state restore.
//
// The package follows the same shape as the host's other native bridges:
// one cgo surface per concern, Go types on the outside, explicit
// ownership of every lilv node. Callbacks handed to the plugin recover
// their Go receiver through a cgo.Handle packed into the feature handle.
package lv2

/*
#cgo pkg-config: lilv-0
#include <stdlib.h>
#include <string.h>
#include <stdint.h>
#include <lilv/lilv.h>
#include <lv2/urid/urid.h>
#include <lv2/atom/atom.h>
#include <lv2/midi/midi.h>
#include <lv2/options/options.h>
#include <lv2/buf-size/buf-size.h>
#include <lv2/worker/worker.h>
#include <lv2/state/state.h>
#include <lv2/resize-port/resize-port.h>
#include <lv2/ui/ui.h>

extern uint32_t lumahostMapURI(void* handle, char* uri);
extern char*    lumahostUnmapURI(void* handle, uint32_t urid);
extern uint32_t lumahostScheduleWork(void* handle, uint32_t size, void* data);
extern uint32_t lumahostWorkerRespond(void* handle, uint32_t size, void* data);
extern void     lumahostSetPortValue(char* symbol, void* user_data, void* value, uint32_t size, uint32_t type);

static char* lumahost_path_dup(void* handle, const char* path) {
	(void)handle;
	return strdup(path);
}

static void lumahost_path_free(void* handle, char* path) {
	(void)handle;
	free(path);
}

// lumahost_features is the complete feature table of one plugin
// instance, allocated as a single C block because the plugin keeps the
// embedded pointers for its whole lifetime.
typedef struct {
	LV2_URID_Map        um;
	LV2_URID_Unmap      unm;
	LV2_Worker_Schedule schedule;
	LV2_State_Map_Path  map_path;
	LV2_State_Make_Path make_path;
	LV2_State_Free_Path free_path;
	uint32_t            max_block;
	LV2_Options_Option  options[2];

	LV2_Feature um_f, unm_f, sched_f, bbl_f, opt_f;
	LV2_Feature map_path_f, make_path_f, free_path_f;

	const LV2_Feature* instantiate[6];
	const LV2_Feature* state[7];
} lumahost_features;

static lumahost_features* lumahost_features_new(uintptr_t handle,
		uint32_t max_block, uint32_t urid_max_block, uint32_t urid_int) {
	lumahost_features* f = (lumahost_features*)calloc(1, sizeof(lumahost_features));

	f->um.handle = (LV2_URID_Map_Handle)handle;
	f->um.map = (LV2_URID (*)(LV2_URID_Map_Handle, const char*))lumahostMapURI;
	f->unm.handle = (LV2_URID_Unmap_Handle)handle;
	f->unm.unmap = (const char* (*)(LV2_URID_Unmap_Handle, LV2_URID))lumahostUnmapURI;
	f->schedule.handle = (LV2_Worker_Schedule_Handle)handle;
	f->schedule.schedule_work =
		(LV2_Worker_Status (*)(LV2_Worker_Schedule_Handle, uint32_t, const void*))lumahostScheduleWork;

	f->map_path.handle = NULL;
	f->map_path.abstract_path = (char* (*)(LV2_State_Map_Path_Handle, const char*))lumahost_path_dup;
	f->map_path.absolute_path = (char* (*)(LV2_State_Map_Path_Handle, const char*))lumahost_path_dup;
	f->make_path.handle = NULL;
	f->make_path.path = (char* (*)(LV2_State_Make_Path_Handle, const char*))lumahost_path_dup;
	f->free_path.handle = NULL;
	f->free_path.free_path = (void (*)(LV2_State_Free_Path_Handle, char*))lumahost_path_free;

	f->max_block = max_block;
	f->options[0].context = LV2_OPTIONS_INSTANCE;
	f->options[0].subject = 0;
	f->options[0].key = urid_max_block;
	f->options[0].size = sizeof(uint32_t);
	f->options[0].type = urid_int;
	f->options[0].value = &f->max_block;

	f->um_f.URI = LV2_URID__map;                     f->um_f.data = &f->um;
	f->unm_f.URI = LV2_URID__unmap;                  f->unm_f.data = &f->unm;
	f->sched_f.URI = LV2_WORKER__schedule;           f->sched_f.data = &f->schedule;
	f->bbl_f.URI = LV2_BUF_SIZE__boundedBlockLength; f->bbl_f.data = NULL;
	f->opt_f.URI = LV2_OPTIONS__options;             f->opt_f.data = f->options;
	f->map_path_f.URI = LV2_STATE__mapPath;          f->map_path_f.data = &f->map_path;
	f->make_path_f.URI = LV2_STATE__makePath;        f->make_path_f.data = &f->make_path;
	f->free_path_f.URI = LV2_STATE__freePath;        f->free_path_f.data = &f->free_path;

	f->instantiate[0] = &f->um_f;
	f->instantiate[1] = &f->unm_f;
	f->instantiate[2] = &f->opt_f;
	f->instantiate[3] = &f->bbl_f;
	f->instantiate[4] = &f->sched_f;
	f->instantiate[5] = NULL;

	f->state[0] = &f->um_f;
	f->state[1] = &f->unm_f;
	f->state[2] = &f->map_path_f;
	f->state[3] = &f->make_path_f;
	f->state[4] = &f->free_path_f;
	f->state[5] = &f->sched_f;
	f->state[6] = NULL;
	return f;
}

static LV2_Worker_Status lumahost_call_work(const LV2_Worker_Interface* iface,
		LV2_Handle handle, uintptr_t respond_handle, uint32_t size, const void* data) {
	return iface->work(handle,
		(LV2_Worker_Respond_Function)lumahostWorkerRespond,
		(LV2_Worker_Respond_Handle)respond_handle, size, data);
}

static LV2_Worker_Status lumahost_call_work_response(const LV2_Worker_Interface* iface,
		LV2_Handle handle, uint32_t size, const void* data) {
	return iface->work_response(handle, size, data);
}

static void lumahost_state_restore(LilvState* state, LilvInstance* instance,
		uintptr_t user_data, const LV2_Feature* const* features) {
	lilv_state_restore(state, instance,
		(LilvSetPortValueFunc)lumahostSetPortValue, (void*)user_data, 0, features);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime/cgo"
	"sort"
	"strings"
	"unsafe"

	"github.com/GeoffreyPlitt/debuggo"

	"github.com/shaban/lumahost"
	"github.com/shaban/lumahost/atom"
)

var lv2Debug = debuggo.Debug("lumahost:lv2")

// Feature and class URIs the bridge negotiates with.
const (
	uriURIDMap            = "http://lv2plug.in/ns/ext/urid#map"
	uriURIDUnmap          = "http://lv2plug.in/ns/ext/urid#unmap"
	uriOptions            = "http://lv2plug.in/ns/ext/options#options"
	uriBoundedBlockLength = "http://lv2plug.in/ns/ext/buf-size#boundedBlockLength"
	uriMaxBlockLength     = "http://lv2plug.in/ns/ext/buf-size#maxBlockLength"
	uriWorkerSchedule     = "http://lv2plug.in/ns/ext/worker#schedule"
	uriWorkerInterface    = "http://lv2plug.in/ns/ext/worker#interface"

	uriAudioPort   = "http://lv2plug.in/ns/lv2core#AudioPort"
	uriControlPort = "http://lv2plug.in/ns/lv2core#ControlPort"
	uriInputPort   = "http://lv2plug.in/ns/lv2core#InputPort"
	uriAtomPort    = "http://lv2plug.in/ns/ext/atom#AtomPort"
	uriX11UI       = "http://lv2plug.in/ns/extensions/ui#X11UI"
	uriMinimumSize = "http://lv2plug.in/ns/ext/resize-port#minimumSize"
	uriPresetClass = "http://lv2plug.in/ns/ext/presets#Preset"
	uriRdfsLabel   = "http://www.w3.org/2000/01/rdf-schema#label"
)

// supportedFeatures is what the host can offer at instantiation time; a
// plugin requiring anything else is rejected.
var supportedFeatures = []string{
	uriURIDMap,
	uriURIDUnmap,
	uriOptions,
	uriBoundedBlockLength,
	uriWorkerSchedule,
}

// World wraps the lilv world and the class nodes port classification
// needs.
type World struct {
	w *C.LilvWorld

	audioClass   *C.LilvNode
	controlClass *C.LilvNode
	atomClass    *C.LilvNode
	inputClass   *C.LilvNode
	x11Class     *C.LilvNode
	midiEvent    *C.LilvNode
	minSize      *C.LilvNode
	presetClass  *C.LilvNode
	rdfsLabel    *C.LilvNode
}

// OpenWorld creates the lilv world and loads every installed bundle.
func OpenWorld() (*World, error) {
	cw := C.lilv_world_new()
	if cw == nil {
		return nil, errors.New("failed to create plugin world")
	}
	C.lilv_world_load_all(cw)

	w := &World{w: cw}
	w.audioClass = w.newURI(uriAudioPort)
	w.controlClass = w.newURI(uriControlPort)
	w.atomClass = w.newURI(uriAtomPort)
	w.inputClass = w.newURI(uriInputPort)
	w.x11Class = w.newURI(uriX11UI)
	w.midiEvent = w.newURI(atom.URIMidiEvent)
	w.minSize = w.newURI(uriMinimumSize)
	w.presetClass = w.newURI(uriPresetClass)
	w.rdfsLabel = w.newURI(uriRdfsLabel)
	return w, nil
}

func (w *World) newURI(uri string) *C.LilvNode {
	cs := C.CString(uri)
	defer C.free(unsafe.Pointer(cs))
	return C.lilv_new_uri(w.w, cs)
}

// Close frees the class nodes and the world. Idempotent.
func (w *World) Close() {
	if w.w == nil {
		return
	}
	for _, n := range []*C.LilvNode{
		w.audioClass, w.controlClass, w.atomClass, w.inputClass,
		w.x11Class, w.midiEvent, w.minSize, w.presetClass, w.rdfsLabel,
	} {
		if n != nil {
			C.lilv_node_free(n)
		}
	}
	C.lilv_world_free(w.w)
	w.w = nil
}

// Match is one catalogue entry found by a substring search.
type Match struct {
	URI  string
	Name string
}

// Matches returns every installed plugin whose URI or display name
// contains the query, case-insensitively. An empty query matches
// everything.
func (w *World) Matches(query string) []Match {
	query = strings.ToLower(query)
	plugs := C.lilv_world_get_all_plugins(w.w)

	var out []Match
	for it := C.lilv_plugins_begin(plugs); !bool(C.lilv_plugins_is_end(plugs, it)); it = C.lilv_plugins_next(plugs, it) {
		p := C.lilv_plugins_get(plugs, it)
		uri := C.GoString(C.lilv_node_as_uri(C.lilv_plugin_get_uri(p)))
		name := uri
		if nd := C.lilv_plugin_get_name(p); nd != nil {
			name = C.GoString(C.lilv_node_as_string(nd))
			C.lilv_node_free(nd)
		}
		if query == "" ||
			strings.Contains(strings.ToLower(uri), query) ||
			strings.Contains(strings.ToLower(name), query) {
			out = append(out, Match{URI: uri, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Plugin is one catalogue entry. It implements lumahost.Plugin.
type Plugin struct {
	world *World
	p     *C.LilvPlugin
	uri   string
	name  string

	inst *Instance
}

// FindPlugin resolves a plugin by exact URI.
func (w *World) FindPlugin(uri string) (*Plugin, error) {
	node := w.newURI(uri)
	if node == nil {
		return nil, fmt.Errorf("invalid plugin URI %q", uri)
	}
	defer C.lilv_node_free(node)

	p := C.lilv_plugins_get_by_uri(C.lilv_world_get_all_plugins(w.w), node)
	if p == nil {
		return nil, fmt.Errorf("plugin not found: %s", uri)
	}

	name := uri
	if nd := C.lilv_plugin_get_name(p); nd != nil {
		name = C.GoString(C.lilv_node_as_string(nd))
		C.lilv_node_free(nd)
	}
	lv2Debug("found plugin %q (%s)", name, uri)
	return &Plugin{world: w, p: p, uri: uri, name: name}, nil
}

// URI returns the plugin's catalogue URI.
func (pl *Plugin) URI() string { return pl.uri }

// Name returns the plugin's display name.
func (pl *Plugin) Name() string { return pl.name }

// Close releases the plugin world. The host calls it last during
// teardown.
func (pl *Plugin) Close() {
	if pl.world != nil {
		pl.world.Close()
		pl.world = nil
	}
}

// Ports reads the port metadata the host's port model is built from.
func (pl *Plugin) Ports() []lumahost.PortInfo {
	w := pl.world
	n := uint32(C.lilv_plugin_get_num_ports(pl.p))
	infos := make([]lumahost.PortInfo, 0, n)

	for i := uint32(0); i < n; i++ {
		lp := C.lilv_plugin_get_port_by_index(pl.p, C.uint32_t(i))
		info := lumahost.PortInfo{
			Index:   i,
			Audio:   bool(C.lilv_port_is_a(pl.p, lp, w.audioClass)),
			Control: bool(C.lilv_port_is_a(pl.p, lp, w.controlClass)),
			Atom:    bool(C.lilv_port_is_a(pl.p, lp, w.atomClass)),
			Input:   bool(C.lilv_port_is_a(pl.p, lp, w.inputClass)),
			Midi:    bool(C.lilv_port_supports_event(pl.p, lp, w.midiEvent)),
		}

		if sym := C.lilv_port_get_symbol(pl.p, lp); sym != nil {
			info.Symbol = C.GoString(C.lilv_node_as_string(sym))
			info.URI = pl.uri + "#" + info.Symbol
		}

		if info.Control && info.Input {
			var dflt, min, max *C.LilvNode
			C.lilv_port_get_range(pl.p, lp, &dflt, &min, &max)
			if min != nil {
				C.lilv_node_free(min)
			}
			if max != nil {
				C.lilv_node_free(max)
			}
			if dflt != nil {
				info.Default = float32(C.lilv_node_as_float(dflt))
				C.lilv_node_free(dflt)
			}
		}

		if info.Atom {
			if sizes := C.lilv_port_get_value(pl.p, lp, w.minSize); sizes != nil {
				if C.lilv_nodes_size(sizes) > 0 {
					info.MinimumSize = uint32(C.lilv_node_as_int(C.lilv_nodes_get_first(sizes)))
				}
				C.lilv_nodes_free(sizes)
			}
		}

		infos = append(infos, info)
	}
	return infos
}

// requiredFeatures lists the feature URIs the plugin declares as
// lv2:requiredFeature.
func (pl *Plugin) requiredFeatures() []string {
	nodes := C.lilv_plugin_get_required_features(pl.p)
	if nodes == nil {
		return nil
	}
	defer C.lilv_nodes_free(nodes)

	var out []string
	for it := C.lilv_nodes_begin(nodes); !bool(C.lilv_nodes_is_end(nodes, it)); it = C.lilv_nodes_next(nodes, it) {
		out = append(out, C.GoString(C.lilv_node_as_uri(C.lilv_nodes_get(nodes, it))))
	}
	return out
}

// Instantiate checks the plugin's required features against what the
// host offers, builds the feature table and creates the DSP instance.
func (pl *Plugin) Instantiate(sampleRate float64, opts lumahost.InstantiateOptions) (lumahost.DSP, error) {
	for _, req := range pl.requiredFeatures() {
		supported := false
		for _, have := range supportedFeatures {
			if req == have {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("required feature %s is not supported", req)
		}
	}

	br := &bridge{
		reg:      opts.Registry,
		schedule: opts.ScheduleWork,
		cstrs:    make(map[uint32]*C.char),
	}
	h := cgo.NewHandle(br)

	feats := C.lumahost_features_new(C.uintptr_t(h),
		C.uint32_t(opts.MaxBlockLength),
		C.uint32_t(opts.Registry.Map(uriMaxBlockLength)),
		C.uint32_t(opts.Registry.Map(atom.URIInt)))

	inst := C.lilv_plugin_instantiate(pl.p, C.double(sampleRate), &feats.instantiate[0])
	if inst == nil {
		h.Delete()
		C.free(unsafe.Pointer(feats))
		return nil, fmt.Errorf("failed to instantiate %s", pl.uri)
	}

	i := &Instance{
		inst:   inst,
		handle: C.lilv_instance_get_handle(inst),
		feats:  feats,
		bridge: br,
		h:      h,
	}

	ext := C.CString(uriWorkerInterface)
	defer C.free(unsafe.Pointer(ext))
	if data := C.lilv_instance_get_extension_data(inst, ext); data != nil {
		i.worker = (*C.LV2_Worker_Interface)(data)
		lv2Debug("plugin %s exposes a worker interface", pl.uri)
	}

	pl.inst = i
	return i, nil
}

// Presets enumerates the plugin's catalogued presets, sorted by label.
func (pl *Plugin) Presets() ([]lumahost.PresetInfo, error) {
	presets := C.lilv_plugin_get_related(pl.p, pl.world.presetClass)
	if presets == nil {
		return nil, nil
	}
	defer C.lilv_nodes_free(presets)

	var out []lumahost.PresetInfo
	for it := C.lilv_nodes_begin(presets); !bool(C.lilv_nodes_is_end(presets, it)); it = C.lilv_nodes_next(presets, it) {
		node := C.lilv_nodes_get(presets, it)
		C.lilv_world_load_resource(pl.world.w, node)

		info := lumahost.PresetInfo{
			URI:   C.GoString(C.lilv_node_as_uri(node)),
			Label: "(no label)",
		}
		if label := C.lilv_world_get(pl.world.w, node, pl.world.rdfsLabel, nil); label != nil {
			if bool(C.lilv_node_is_string(label)) {
				info.Label = C.GoString(C.lilv_node_as_string(label))
			}
			C.lilv_node_free(label)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// RestorePreset loads a preset state, from the world when it is
// catalogued or from the file the URI points at, and replays its port
// values through setPortValue.
func (pl *Plugin) RestorePreset(uri string, setPortValue func(symbol string, value float32)) error {
	if pl.inst == nil {
		return errors.New("plugin not instantiated")
	}

	node := pl.world.newURI(uri)
	if node == nil {
		return fmt.Errorf("invalid preset URI %q", uri)
	}
	defer C.lilv_node_free(node)

	state := C.lilv_state_new_from_world(pl.world.w, &pl.inst.feats.um, node)
	if state == nil {
		curi := C.CString(uri)
		path := C.lilv_file_uri_parse(curi, nil)
		C.free(unsafe.Pointer(curi))
		if path == nil {
			return fmt.Errorf("preset not found: %s", uri)
		}
		state = C.lilv_state_new_from_file(pl.world.w, &pl.inst.feats.um, nil, path)
		C.lilv_free(unsafe.Pointer(path))
		if state == nil {
			return fmt.Errorf("failed to load preset %s", uri)
		}
	}
	defer C.lilv_state_free(state)

	sh := cgo.NewHandle(setPortValue)
	defer sh.Delete()
	C.lumahost_state_restore(state, pl.inst.inst, C.uintptr_t(sh), &pl.inst.feats.state[0])
	return nil
}

// SelectX11UI returns the plugin's X11 UI bundle, if it ships one.
func (pl *Plugin) SelectX11UI() (lumahost.UIInfo, bool) {
	uis := C.lilv_plugin_get_uis(pl.p)
	if uis == nil {
		return lumahost.UIInfo{}, false
	}
	defer C.lilv_uis_free(uis)

	for it := C.lilv_uis_begin(uis); !bool(C.lilv_uis_is_end(uis, it)); it = C.lilv_uis_next(uis, it) {
		ui := C.lilv_uis_get(uis, it)
		if !bool(C.lilv_ui_is_a(ui, pl.world.x11Class)) {
			continue
		}
		info := lumahost.UIInfo{
			URI: C.GoString(C.lilv_node_as_uri(C.lilv_ui_get_uri(ui))),
		}
		if bin := C.lilv_node_get_path(C.lilv_ui_get_binary_uri(ui), nil); bin != nil {
			info.BinaryPath = C.GoString(bin)
			C.lilv_free(unsafe.Pointer(bin))
		}
		if bundle := C.lilv_node_get_path(C.lilv_ui_get_bundle_uri(ui), nil); bundle != nil {
			info.BundlePath = C.GoString(bundle)
			C.lilv_free(unsafe.Pointer(bundle))
		}
		return info, true
	}
	return lumahost.UIInfo{}, false
}

// Instance is one live DSP instance. It implements lumahost.DSP.
type Instance struct {
	inst   *C.LilvInstance
	handle C.LV2_Handle
	worker *C.LV2_Worker_Interface
	feats  *C.lumahost_features
	bridge *bridge
	h      cgo.Handle
}

// ConnectPort binds a plugin port to a host buffer. Called on the audio
// thread for audio ports, at init for control and atom ports.
func (i *Instance) ConnectPort(index uint32, buf unsafe.Pointer) {
	C.lilv_instance_connect_port(i.inst, C.uint32_t(index), buf)
}

// Run processes one cycle of nframes frames.
func (i *Instance) Run(nframes uint32) {
	C.lilv_instance_run(i.inst, C.uint32_t(nframes))
}

// Activate readies the instance for processing.
func (i *Instance) Activate() { C.lilv_instance_activate(i.inst) }

// Deactivate halts processing.
func (i *Instance) Deactivate() {
	if i.inst != nil {
		C.lilv_instance_deactivate(i.inst)
	}
}

// Worker returns the plugin's worker extension or nil.
func (i *Instance) Worker() lumahost.WorkerInterface {
	if i.worker == nil {
		return nil
	}
	return &workerIface{i: i}
}

// Free releases the instance, the feature block and the callback handle.
// Idempotent.
func (i *Instance) Free() {
	if i.inst != nil {
		C.lilv_instance_free(i.inst)
		i.inst = nil
	}
	if i.feats != nil {
		C.free(unsafe.Pointer(i.feats))
		i.feats = nil
	}
	if i.bridge != nil {
		i.bridge.release()
		i.bridge = nil
	}
	if i.h != 0 {
		i.h.Delete()
		i.h = 0
	}
}

// workerIface adapts the plugin's LV2_Worker_Interface to the host's
// worker contract.
type workerIface struct {
	i *Instance
}

// Work runs on the host's worker goroutine. The respond function is
// packed into a short-lived handle; the plugin may only call it during
// this invocation.
func (w *workerIface) Work(respond lumahost.RespondFunc, data []byte) error {
	rh := cgo.NewHandle(respond)
	defer rh.Delete()
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	return workerStatusErr(C.lumahost_call_work(
		w.i.worker, w.i.handle, C.uintptr_t(rh), C.uint32_t(len(data)), ptr))
}

// WorkResponse delivers a response frame on the audio thread.
func (w *workerIface) WorkResponse(data []byte) error {
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	return workerStatusErr(C.lumahost_call_work_response(
		w.i.worker, w.i.handle, C.uint32_t(len(data)), ptr))
}

func workerStatusErr(st C.LV2_Worker_Status) error {
	if st == C.LV2_WORKER_SUCCESS {
		return nil
	}
	return fmt.Errorf("worker status %d", int(st))
}
