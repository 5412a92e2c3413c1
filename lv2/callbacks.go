package lv2

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/shaban/lumahost"
	"github.com/shaban/lumahost/urid"
)

// bridge is the Go state the exported callbacks recover through the
// cgo.Handle packed into the plugin's feature handles.
type bridge struct {
	reg      *urid.Registry
	schedule func([]byte) error

	// cstrs caches C copies of unmapped URIs; the ABI requires the
	// returned pointer to stay valid.
	mu    sync.Mutex
	cstrs map[uint32]*C.char
}

func (b *bridge) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cs := range b.cstrs {
		C.free(unsafe.Pointer(cs))
	}
	b.cstrs = nil
}

const (
	workerSuccess    = 0
	workerErrNoSpace = 2
)

//export lumahostMapURI
func lumahostMapURI(handle unsafe.Pointer, uri *C.char) C.uint32_t {
	b := cgo.Handle(uintptr(handle)).Value().(*bridge)
	return C.uint32_t(b.reg.Map(C.GoString(uri)))
}

//export lumahostUnmapURI
func lumahostUnmapURI(handle unsafe.Pointer, id C.uint32_t) *C.char {
	b := cgo.Handle(uintptr(handle)).Value().(*bridge)
	uri, ok := b.reg.Unmap(uint32(id))
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cs, ok := b.cstrs[uint32(id)]; ok {
		return cs
	}
	cs := C.CString(uri)
	b.cstrs[uint32(id)] = cs
	return cs
}

// lumahostScheduleWork runs on the audio thread; the payload is viewed in
// place and copied into the request ring by the schedule func.
//
//export lumahostScheduleWork
func lumahostScheduleWork(handle unsafe.Pointer, size C.uint32_t, data unsafe.Pointer) C.uint32_t {
	b := cgo.Handle(uintptr(handle)).Value().(*bridge)
	if b.schedule == nil {
		return workerErrNoSpace
	}
	var buf []byte
	if data != nil && size > 0 {
		buf = unsafe.Slice((*byte)(data), int(size))
	}
	if err := b.schedule(buf); err != nil {
		return workerErrNoSpace
	}
	return workerSuccess
}

//export lumahostWorkerRespond
func lumahostWorkerRespond(handle unsafe.Pointer, size C.uint32_t, data unsafe.Pointer) C.uint32_t {
	respond := cgo.Handle(uintptr(handle)).Value().(lumahost.RespondFunc)
	var buf []byte
	if data != nil && size > 0 {
		buf = unsafe.Slice((*byte)(data), int(size))
	}
	if err := respond(buf); err != nil {
		return workerErrNoSpace
	}
	return workerSuccess
}

//export lumahostSetPortValue
func lumahostSetPortValue(symbol *C.char, userData unsafe.Pointer, value unsafe.Pointer, size C.uint32_t, typ C.uint32_t) {
	if symbol == nil || value == nil || size != 4 {
		return
	}
	set := cgo.Handle(uintptr(userData)).Value().(func(string, float32))
	set(C.GoString(symbol), *(*float32)(value))
}
