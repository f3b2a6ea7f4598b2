// Package platform is the process's protocol handler table. It owns the
// built-in handlers and lets a hook.Factory replace them on first use.
package platform

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/hook"
)

var (
	ErrFactoryAlreadySet = errors.New("platform: handler factory already set")
	ErrUnknownProtocol   = errors.New("platform: unknown protocol")
)

// Acquirer supplies replacement handlers. A nil handler with a nil error
// means "use the built-in one".
type Acquirer interface {
	Acquire(ctx context.Context, protocol string) (hook.Handler, error)
}

type Options struct {
	// Timeout bounds each TCP dial. Zero means no timeout.
	Timeout time.Duration
	// Proxy selects the proxy for Open calls. Nil means direct.
	Proxy     func(*url.URL) (*url.URL, error)
	TLSConfig *tls.Config
}

type Table struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	factory   Acquirer
	active    map[string]hook.Handler
	transient map[string]hook.Handler
	builtin   map[string]hook.Handler
}

var (
	_ hook.Platform = (*Table)(nil)
	_ hook.Releaser = (*Table)(nil)
)

func NewTable(logger zerolog.Logger, opts Options) *Table {
	t := &Table{
		logger:    logger,
		active:    make(map[string]hook.Handler),
		transient: make(map[string]hook.Handler),
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	t.builtin = map[string]hook.Handler{
		"http":  newDialHandler(t, dialer, opts, false),
		"https": newDialHandler(t, dialer, opts, true),
		"tcp":   newDialHandler(t, dialer, opts, false),
	}

	return t
}

// SetFactory installs the handler factory. It may be called once.
func (t *Table) SetFactory(f Acquirer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.factory != nil {
		return ErrFactoryAlreadySet
	}
	t.factory = f

	return nil
}

// Handler returns the active handler for protocol, consulting the factory
// the first time a protocol is requested.
func (t *Table) Handler(ctx context.Context, protocol string) (hook.Handler, error) {
	return t.lookup(ctx, protocol, false)
}

// HandlerFor is the privileged lookup used to capture the original handler.
// It resolves through the factory, so it re-enters it on the same call
// chain. A built-in chosen here is held as a transient entry that Handler
// never serves, so concurrent callers keep waiting on the factory.
func (t *Table) HandlerFor(ctx context.Context, protocol string) (hook.Handler, error) {
	return t.lookup(ctx, protocol, true)
}

func (t *Table) lookup(ctx context.Context, protocol string, privileged bool) (hook.Handler, error) {
	t.mu.RLock()
	h, ok := t.active[protocol]
	factory := t.factory
	t.mu.RUnlock()

	if ok {
		return h, nil
	}

	if factory != nil {
		h, err := factory.Acquire(ctx, protocol)
		if err != nil {
			t.logger.Warn().Err(err).Str("protocol", protocol).
				Msg("handler factory failed; using built-in handler")
		} else if h != nil {
			t.activate(protocol, h)
			return h, nil
		}
	}

	h, ok = t.builtin[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}

	if privileged {
		t.mu.Lock()
		t.transient[protocol] = h
		t.mu.Unlock()

		return h, nil
	}
	t.activate(protocol, h)

	return h, nil
}

func (t *Table) activate(protocol string, h hook.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[protocol] = h
}

// Release drops the transient entry left behind by HandlerFor.
func (t *Table) Release(protocol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.transient, protocol)
}

// Open resolves the handler for protocol and opens addr with it.
func (t *Table) Open(ctx context.Context, protocol string, addr string) (net.Conn, error) {
	h, err := t.Handler(ctx, protocol)
	if err != nil {
		return nil, err
	}

	return h.Open(ctx, &url.URL{Scheme: protocol, Host: addr})
}
