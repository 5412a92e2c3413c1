// Package ui loads a plugin's X11 UI bundle and drives its descriptor
// through the C ABI. The shared object is opened with purego, so no cgo
// is involved on this side of the host; the descriptor's function
// pointers are invoked directly and the host-side callbacks (write,
// port-index, resize, URID map/unmap) are exported as native function
// pointers via purego's callback support.
package ui

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/ebitengine/purego"

	"github.com/shaban/lumahost"
)

var uiDebug = debuggo.Debug("lumahost:ui")

// Feature and extension URIs of the UI side of the plugin ABI.
const (
	uriParent        = "http://lv2plug.in/ns/extensions/ui#parent"
	uriResize        = "http://lv2plug.in/ns/extensions/ui#resize"
	uriPortMap       = "http://lv2plug.in/ns/extensions/ui#portMap"
	uriIdleInterface = "http://lv2plug.in/ns/extensions/ui#idleInterface"
	uriURIDMap       = "http://lv2plug.in/ns/ext/urid#map"
	uriURIDUnmap     = "http://lv2plug.in/ns/ext/urid#unmap"
)

// entryPoint is the descriptor enumeration symbol every UI binary
// exports.
const entryPoint = "lv2ui_descriptor"

// The structs below mirror the C ABI layouts of the 64-bit targets the
// host runs on; they are handed to native code by address and must not
// be reordered.

type cFeature struct {
	uri  *byte
	data unsafe.Pointer
}

type cURIDMap struct {
	handle unsafe.Pointer
	mapFn  uintptr
}

type cURIDUnmap struct {
	handle  unsafe.Pointer
	unmapFn uintptr
}

type cPortMap struct {
	handle  unsafe.Pointer
	indexFn uintptr
}

type cResize struct {
	handle   unsafe.Pointer
	resizeFn uintptr
}

type cDescriptor struct {
	uri           *byte
	instantiate   uintptr
	cleanup       uintptr
	portEvent     uintptr
	extensionData uintptr
}

type cIdleInterface struct {
	idle uintptr
}

// Instance is one loaded plugin UI. It implements lumahost.UI.
type Instance struct {
	lib    uintptr
	desc   *cDescriptor
	handle uintptr
	widget uintptr
	idleFn uintptr

	// keep pins every Go allocation whose address crossed the ABI.
	keep []any

	unmapCache map[uint32][]byte
}

// Load opens the UI binary, locates the descriptor whose URI matches
// info.URI and instantiates it under the host window.
func Load(info lumahost.UIInfo, cb lumahost.UIHostCallbacks) (*Instance, error) {
	lib, err := purego.Dlopen(info.BinaryPath, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("failed to load UI binary %s: %w", info.BinaryPath, err)
	}

	entry, err := purego.Dlsym(lib, entryPoint)
	if err != nil {
		purego.Dlclose(lib)
		return nil, fmt.Errorf("no %s in %s: %w", entryPoint, info.BinaryPath, err)
	}

	u := &Instance{lib: lib, unmapCache: make(map[uint32][]byte)}

	var desc *cDescriptor
	for index := uintptr(0); ; index++ {
		ptr, _, _ := purego.SyscallN(entry, index)
		if ptr == 0 {
			break
		}
		d := (*cDescriptor)(unsafe.Pointer(ptr))
		if goString(d.uri) == info.URI {
			desc = d
			break
		}
	}
	if desc == nil {
		purego.Dlclose(lib)
		return nil, errors.New("UI descriptor not found: " + info.URI)
	}
	u.desc = desc

	writeFn := purego.NewCallback(func(controller, port, size, protocol, buffer uintptr) uintptr {
		if cb.Write != nil {
			var body []byte
			if buffer != 0 && size > 0 {
				body = unsafe.Slice((*byte)(unsafe.Pointer(buffer)), size)
			}
			cb.Write(uint32(port), uint32(protocol), body)
		}
		return 0
	})
	portIndexFn := purego.NewCallback(func(handle, symbol uintptr) uintptr {
		if cb.PortIndex == nil || symbol == 0 {
			return uintptr(lumahost.InvalidPortIndex)
		}
		return uintptr(cb.PortIndex(goString((*byte)(unsafe.Pointer(symbol)))))
	})
	resizeFn := purego.NewCallback(func(handle, width, height uintptr) uintptr {
		if cb.Resize != nil && cb.Resize(int(width), int(height)) {
			return 0
		}
		return 1
	})
	mapFn := purego.NewCallback(func(handle, uri uintptr) uintptr {
		if cb.Map == nil || uri == 0 {
			return 0
		}
		return uintptr(cb.Map(goString((*byte)(unsafe.Pointer(uri)))))
	})
	unmapFn := purego.NewCallback(func(handle, id uintptr) uintptr {
		if cb.Unmap == nil {
			return 0
		}
		uri, ok := cb.Unmap(uint32(id))
		if !ok {
			return 0
		}
		return uintptr(unsafe.Pointer(u.cstrCached(uint32(id), uri)))
	})

	uridMap := &cURIDMap{mapFn: mapFn}
	uridUnmap := &cURIDUnmap{unmapFn: unmapFn}
	portMap := &cPortMap{indexFn: portIndexFn}
	resize := &cResize{resizeFn: resizeFn}
	u.keep = append(u.keep, uridMap, uridUnmap, portMap, resize)

	feats := []cFeature{
		{uri: u.cstr(uriParent), data: unsafe.Pointer(uintptr(cb.ParentWindow))},
		{uri: u.cstr(uriResize), data: unsafe.Pointer(resize)},
		{uri: u.cstr(uriPortMap), data: unsafe.Pointer(portMap)},
		{uri: u.cstr(uriURIDMap), data: unsafe.Pointer(uridMap)},
		{uri: u.cstr(uriURIDUnmap), data: unsafe.Pointer(uridUnmap)},
	}
	featPtrs := make([]uintptr, 0, len(feats)+1)
	for i := range feats {
		featPtrs = append(featPtrs, uintptr(unsafe.Pointer(&feats[i])))
	}
	featPtrs = append(featPtrs, 0)
	u.keep = append(u.keep, feats, featPtrs)

	pluginURI := u.cstr(cb.PluginURI)
	bundle := u.cstr(info.BundlePath)

	handle, _, _ := purego.SyscallN(desc.instantiate,
		uintptr(unsafe.Pointer(desc)),
		uintptr(unsafe.Pointer(pluginURI)),
		uintptr(unsafe.Pointer(bundle)),
		writeFn,
		0, // controller; the write callback closes over the host
		uintptr(unsafe.Pointer(&u.widget)),
		uintptr(unsafe.Pointer(&featPtrs[0])),
	)
	if handle == 0 {
		purego.Dlclose(lib)
		return nil, errors.New("UI instantiate failed: " + info.URI)
	}
	u.handle = handle

	if desc.extensionData != 0 {
		ext, _, _ := purego.SyscallN(desc.extensionData,
			uintptr(unsafe.Pointer(u.cstr(uriIdleInterface))))
		if ext != 0 {
			u.idleFn = (*cIdleInterface)(unsafe.Pointer(ext)).idle
		}
	}

	uiDebug("UI %s instantiated (widget %#x, idle %v)",
		info.URI, u.widget, u.idleFn != 0)
	return u, nil
}

// PortEvent forwards one port event into the UI.
func (u *Instance) PortEvent(portIndex uint32, format uint32, buffer []byte) {
	if u.handle == 0 || u.desc.portEvent == 0 {
		return
	}
	var ptr uintptr
	if len(buffer) > 0 {
		ptr = uintptr(unsafe.Pointer(&buffer[0]))
	}
	purego.SyscallN(u.desc.portEvent, u.handle,
		uintptr(portIndex), uintptr(len(buffer)), uintptr(format), ptr)
}

// Idle drives the UI's idle extension, a no-op when the UI has none.
func (u *Instance) Idle() {
	if u.handle != 0 && u.idleFn != 0 {
		purego.SyscallN(u.idleFn, u.handle)
	}
}

// Widget returns the X11 window id of the plugin's widget.
func (u *Instance) Widget() uint32 { return uint32(u.widget) }

// Cleanup runs the descriptor's cleanup hook and closes the shared
// object. Idempotent.
func (u *Instance) Cleanup() {
	if u.handle != 0 && u.desc.cleanup != 0 {
		purego.SyscallN(u.desc.cleanup, u.handle)
	}
	u.handle = 0
	if u.lib != 0 {
		purego.Dlclose(u.lib)
		u.lib = 0
	}
}

// cstr pins a NUL-terminated copy of s for the lifetime of the instance.
func (u *Instance) cstr(s string) *byte {
	b := append([]byte(s), 0)
	u.keep = append(u.keep, b)
	return &b[0]
}

// cstrCached returns a stable NUL-terminated string for unmap results:
// every unmap of the same id returns the same pointer, which stays valid
// for the lifetime of the instance.
func (u *Instance) cstrCached(id uint32, s string) *byte {
	if b, ok := u.unmapCache[id]; ok {
		return &b[0]
	}
	b := append([]byte(s), 0)
	u.unmapCache[id] = b
	return &b[0]
}

func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
