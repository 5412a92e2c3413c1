// Package urid implements the URI ↔ integer mapping required by the LV2
// ABI. Atom bodies tag their types by integer, so both the host and the
// plugin consult the registry on every audio cycle; lookups in either
// direction must therefore be cheap and must never block the audio thread.
//
// Ids are dense, strictly positive and assigned in registration order.
// Once assigned, a binding is immutable for the lifetime of the host.
package urid

import (
	"sync"
	"sync/atomic"

	nlrm "github.com/launix-de/NonLockingReadMap"
)

type binding struct {
	uri string
	id  uint32
}

func (b binding) GetKey() string    { return b.uri }
func (b binding) ComputeSize() uint { return uint(len(b.uri)) + 4 }

// Registry maps URI strings to dense 32-bit ids and back. Reads on both
// directions are non-blocking; growth takes a mutex but is expected to be
// confined to init and the occasional first-sight map call.
type Registry struct {
	byURI nlrm.NonLockingReadMap[binding, string]
	byID  atomic.Pointer[[]string]
	mu    sync.Mutex
}

// NewRegistry returns an empty registry. Id 0 is never assigned.
func NewRegistry() *Registry {
	r := &Registry{byURI: nlrm.New[binding, string]()}
	table := make([]string, 0, 64)
	r.byID.Store(&table)
	return r
}

// Map returns the id bound to uri, assigning size+1 on first sight.
// It never fails and is safe to call from the audio thread.
func (r *Registry) Map(uri string) uint32 {
	if b := r.byURI.Get(uri); b != nil {
		return b.id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.byURI.Get(uri); b != nil {
		return b.id
	}

	old := *r.byID.Load()
	id := uint32(len(old)) + 1
	table := make([]string, len(old)+1)
	copy(table, old)
	table[len(old)] = uri
	r.byID.Store(&table)
	r.byURI.Set(&binding{uri: uri, id: id})
	return id
}

// Unmap returns the URI bound to id, or false for ids never handed out
// by Map.
func (r *Registry) Unmap(id uint32) (string, bool) {
	table := *r.byID.Load()
	if id == 0 || int(id) > len(table) {
		return "", false
	}
	return table[id-1], true
}

// Size returns the number of registered bindings.
func (r *Registry) Size() int {
	return len(*r.byID.Load())
}
