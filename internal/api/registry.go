package api

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/lumen/pkg/lumen/compiler"
)

// entry is one compiled program plus the trace buffer its compiler.Options
// wrote events into, retrievable afterward by /v1/trace.
type entry struct {
	prog  *compiler.Program
	trace *bytes.Buffer
}

// Registry holds every program compiled through this service instance,
// keyed by an opaque ID handed back from /v1/compile -- the same
// per-instance-keyed-store shape pkg/lumen/process uses for machine/
// memory instances, applied here to compiled programs instead.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextID  int64
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Put stores prog and returns the ID assigned to it.
func (r *Registry) Put(prog *compiler.Program, trace *bytes.Buffer) string {
	id := fmt.Sprintf("p%d", atomic.AddInt64(&r.nextID, 1))
	r.mu.Lock()
	r.entries[id] = &entry{prog: prog, trace: trace}
	r.mu.Unlock()
	return id
}

// Get returns the program registered under id, or nil if unknown.
func (r *Registry) Get(id string) (*compiler.Program, *bytes.Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.prog, e.trace, true
}
