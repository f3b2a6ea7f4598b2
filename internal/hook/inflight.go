package hook

import (
	"context"
	"sync"
)

type inflightCtxKey struct{}

// inflight is the set of protocols being installed by one call chain. It
// travels in the context handed to the platform lookup, so a lookup that
// calls back into the factory sees its own marks.
type inflight struct {
	mu        sync.Mutex
	protocols map[string]struct{}

	// ownsLock is set while this call chain holds the installation lock, so
	// a nested capture of another protocol does not wait on itself.
	ownsLock bool
}

func inflightFrom(ctx context.Context) (*inflight, bool) {
	s, ok := ctx.Value(inflightCtxKey{}).(*inflight)
	return s, ok
}

// withInflight returns ctx unchanged when it already carries a set.
func withInflight(ctx context.Context) (context.Context, *inflight) {
	if s, ok := inflightFrom(ctx); ok {
		return ctx, s
	}

	s := &inflight{protocols: make(map[string]struct{})}
	return context.WithValue(ctx, inflightCtxKey{}, s), s
}

func (s *inflight) has(protocol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.protocols[protocol]
	return ok
}

// mark returns false if the protocol is already marked.
func (s *inflight) mark(protocol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.protocols[protocol]; ok {
		return false
	}
	s.protocols[protocol] = struct{}{}

	return true
}

func (s *inflight) unmark(protocol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.protocols, protocol)
}

func (s *inflight) lockOwned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ownsLock
}

func (s *inflight) setLockOwned(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ownsLock = v
}

func (s *inflight) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.protocols)
}
