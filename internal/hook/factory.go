package hook

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled
)

var stateNames = []string{"uninstalled", "installing", "installed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Factory installs the Interceptor for each claimed protocol the first time
// the platform asks for it, capturing the platform's original handler on
// the way.
type Factory struct {
	logger zerolog.Logger

	platform    Platform
	registry    *Registry
	interceptor Handler
	protocols   map[string]struct{}

	// installMu serializes every capture sequence.
	installMu sync.Mutex

	stateMu    sync.Mutex
	installing map[string]struct{}

	captures atomic.Uint64
}

// NewFactory claims the given protocols. The set cannot change afterwards.
func NewFactory(
	logger zerolog.Logger,
	platform Platform,
	registry *Registry,
	interceptor Handler,
	protocols []string,
) *Factory {
	claimed := make(map[string]struct{}, len(protocols))
	for _, p := range protocols {
		claimed[p] = struct{}{}
	}

	return &Factory{
		logger:      logger,
		platform:    platform,
		registry:    registry,
		interceptor: interceptor,
		protocols:   claimed,
		installing:  make(map[string]struct{}),
	}
}

// Acquire returns the handler to install for protocol. A nil handler with a
// nil error tells the caller to use its own built-in handler: either the
// protocol is not claimed, or this call was made by the platform lookup that
// an outer Acquire on the same context is running.
func (f *Factory) Acquire(ctx context.Context, protocol string) (Handler, error) {
	if !f.Claims(protocol) {
		return nil, nil
	}

	ctx, set := withInflight(ctx)
	if set.has(protocol) {
		f.logger.Trace().Str("protocol", protocol).Msg("reentrant lookup; deferring")
		return nil, nil
	}

	if _, ok := f.registry.Get(protocol); ok {
		return f.interceptor, nil
	}

	set.mark(protocol)
	defer set.unmark(protocol)

	if err := f.install(ctx, set, protocol); err != nil {
		return nil, err
	}

	return f.interceptor, nil
}

func (f *Factory) install(ctx context.Context, set *inflight, protocol string) error {
	if !set.lockOwned() {
		f.installMu.Lock()
		set.setLockOwned(true)
		defer func() {
			set.setLockOwned(false)
			f.installMu.Unlock()
		}()
	}

	// Another goroutine may have finished while we waited for the lock.
	if _, ok := f.registry.Get(protocol); ok {
		return nil
	}

	f.setInstalling(protocol, true)
	defer f.setInstalling(protocol, false)

	original, err := f.platform.HandlerFor(ctx, protocol)
	if err != nil {
		return &CaptureFailureError{Protocol: protocol, Err: err}
	}

	f.registry.Put(protocol, original)
	if r, ok := f.platform.(Releaser); ok {
		r.Release(protocol)
	}
	f.captures.Add(1)

	f.logger.Debug().Str("protocol", protocol).Msg("captured original handler")

	return nil
}

func (f *Factory) setInstalling(protocol string, on bool) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	if on {
		f.installing[protocol] = struct{}{}
	} else {
		delete(f.installing, protocol)
	}
}

func (f *Factory) Claims(protocol string) bool {
	_, ok := f.protocols[protocol]
	return ok
}

// Protocols returns the claimed protocols in sorted order.
func (f *Factory) Protocols() []string {
	out := make([]string, 0, len(f.protocols))
	for p := range f.protocols {
		out = append(out, p)
	}
	slices.Sort(out)

	return out
}

func (f *Factory) State(protocol string) State {
	if _, ok := f.registry.Get(protocol); ok {
		return StateInstalled
	}

	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	if _, ok := f.installing[protocol]; ok {
		return StateInstalling
	}

	return StateUninstalled
}

// Captures is the number of completed capture sequences.
func (f *Factory) Captures() uint64 {
	return f.captures.Load()
}

func (f *Factory) Interceptor() Handler {
	return f.interceptor
}
