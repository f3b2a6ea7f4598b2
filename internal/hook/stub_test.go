package hook

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
)

type openCall struct {
	url      string
	proxy    *url.URL
	useProxy bool
}

// stubHandler stands in for a captured platform handler.
type stubHandler struct {
	mu    sync.Mutex
	calls []openCall

	conn     func() net.Conn
	err      error
	observer func(ctx context.Context)
}

func (h *stubHandler) Open(ctx context.Context, u *url.URL) (net.Conn, error) {
	return h.record(ctx, u, nil, false)
}

func (h *stubHandler) OpenVia(ctx context.Context, u *url.URL, proxy *url.URL) (net.Conn, error) {
	return h.record(ctx, u, proxy, true)
}

func (h *stubHandler) record(
	ctx context.Context,
	u *url.URL,
	proxy *url.URL,
	useProxy bool,
) (net.Conn, error) {
	if h.observer != nil {
		h.observer(ctx)
	}

	h.mu.Lock()
	h.calls = append(h.calls, openCall{url: u.String(), proxy: proxy, useProxy: useProxy})
	h.mu.Unlock()

	if h.err != nil {
		return nil, h.err
	}
	if h.conn != nil {
		return h.conn(), nil
	}

	c, _ := net.Pipe()
	return c, nil
}

// stubPlatform counts privileged lookups and records releases.
type stubPlatform struct {
	lookups  atomic.Int32
	releases atomic.Int32

	handler Handler
	err     error
	lookup  func(ctx context.Context, protocol string)
	release func(protocol string)
}

func (p *stubPlatform) HandlerFor(ctx context.Context, protocol string) (Handler, error) {
	p.lookups.Add(1)
	if p.lookup != nil {
		p.lookup(ctx, protocol)
	}
	if p.err != nil {
		return nil, p.err
	}

	return p.handler, nil
}

func (p *stubPlatform) Release(protocol string) {
	p.releases.Add(1)
	if p.release != nil {
		p.release(protocol)
	}
}

type basicConn struct {
	net.Conn
	kind ConnKind
}

type streamingConn struct {
	net.Conn
	kind ConnKind
}

type stubDecorator struct{}

func (stubDecorator) WrapStreaming(kind ConnKind, raw net.Conn) net.Conn {
	return &streamingConn{Conn: raw, kind: kind}
}

func (stubDecorator) WrapBasic(kind ConnKind, raw net.Conn) net.Conn {
	return &basicConn{Conn: raw, kind: kind}
}

type secureConn struct {
	net.Conn
}

func (secureConn) ConnectionState() tls.ConnectionState {
	return tls.ConnectionState{HandshakeComplete: true}
}
