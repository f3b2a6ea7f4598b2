// Package hook replaces the process's connection-opening logic for a fixed
// set of protocols with an instrumented Interceptor, while keeping the
// original handler around so the Interceptor can delegate to it.
package hook

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/session"
)

// Handler opens connections for a single protocol.
//
// Open uses the handler's default proxy selection. OpenVia uses the given
// proxy, where a nil proxy means an explicitly direct connection.
type Handler interface {
	Open(ctx context.Context, u *url.URL) (net.Conn, error)
	OpenVia(ctx context.Context, u *url.URL, proxy *url.URL) (net.Conn, error)
}

// Platform exposes the hosting runtime's own lookup for the handler that is
// currently active for a protocol.
type Platform interface {
	HandlerFor(ctx context.Context, protocol string) (Handler, error)
}

// Releaser is implemented by platforms whose lookup leaves a transient
// registration behind.
type Releaser interface {
	Release(protocol string)
}

type TenantResolver interface {
	CurrentTenant(ctx context.Context) (session.Tenant, bool)
}

type FeatureStore interface {
	Enabled(ctx context.Context, t session.Tenant, f compat.Feature) bool
	With(ctx context.Context, f compat.Feature, on bool) context.Context
}

// ConnKind tells a Decorator which capability set the raw connection has.
type ConnKind int

const (
	ConnPlain ConnKind = iota
	ConnSecure
)

func (k ConnKind) String() string {
	if k == ConnSecure {
		return "secure"
	}

	return "plain"
}

type Decorator interface {
	WrapStreaming(kind ConnKind, raw net.Conn) net.Conn
	WrapBasic(kind ConnKind, raw net.Conn) net.Conn
}

type tlsStater interface {
	ConnectionState() tls.ConnectionState
}

// KindOf reports ConnSecure for connections that carry TLS state.
func KindOf(conn net.Conn) ConnKind {
	if _, ok := conn.(tlsStater); ok {
		return ConnSecure
	}

	return ConnPlain
}
