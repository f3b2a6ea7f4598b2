package hook

import (
	"slices"
	"sync"
)

// Registry maps a protocol to its captured original handler. Entries are
// written once under the factory's installation lock and live for the
// lifetime of the process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Put(protocol string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[protocol] = h
}

func (r *Registry) Get(protocol string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[protocol]
	return h, ok
}

// Protocols returns the captured protocols in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	slices.Sort(out)

	return out
}
