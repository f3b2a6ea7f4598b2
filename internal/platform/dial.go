package platform

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"github.com/xvzc/connhook/internal/hook"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// dialHandler is the built-in handler: a TCP dial, optionally through a
// proxy, optionally followed by a TLS handshake.
type dialHandler struct {
	table     *Table
	dialer    *net.Dialer
	proxy     func(*url.URL) (*url.URL, error)
	tlsConfig *tls.Config
	secure    bool
}

var _ hook.Handler = (*dialHandler)(nil)

func newDialHandler(t *Table, dialer *net.Dialer, opts Options, secure bool) *dialHandler {
	return &dialHandler{
		table:     t,
		dialer:    dialer,
		proxy:     opts.Proxy,
		tlsConfig: opts.TLSConfig,
		secure:    secure,
	}
}

func (h *dialHandler) Open(ctx context.Context, u *url.URL) (net.Conn, error) {
	var proxy *url.URL
	if h.proxy != nil {
		p, err := h.proxy(u)
		if err != nil {
			return nil, fmt.Errorf("selecting proxy for %s: %w", u.Host, err)
		}
		proxy = p
	}

	return h.OpenVia(ctx, u, proxy)
}

func (h *dialHandler) OpenVia(ctx context.Context, u *url.URL, proxy *url.URL) (net.Conn, error) {
	addr, err := hostPort(u)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	if proxy == nil {
		conn, err = h.dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = h.table.dialProxy(ctx, h.dialer, proxy, addr)
	}
	if err != nil {
		return nil, err
	}

	if !h.secure {
		return conn, nil
	}

	cfg := &tls.Config{}
	if h.tlsConfig != nil {
		cfg = h.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Hostname()
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}

	return tlsConn, nil
}

func hostPort(u *url.URL) (string, error) {
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("missing host in %q", u.String())
	}

	port := u.Port()
	if port == "" {
		p, ok := defaultPorts[u.Scheme]
		if !ok {
			return "", fmt.Errorf("missing port in %q", u.String())
		}
		port = p
	}

	return net.JoinHostPort(host, port), nil
}
