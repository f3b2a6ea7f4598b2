// Package decorate wraps opened connections. A basic wrapper passes bytes
// through untouched; a streaming wrapper counts traffic and reports it when
// the connection closes.
package decorate

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/hook"
)

type tlsStater interface {
	ConnectionState() tls.ConnectionState
}

// Stats describes one streaming connection at close time.
type Stats struct {
	ID           string
	Kind         hook.ConnKind
	Remote       string
	BytesRead    int64
	BytesWritten int64
	Duration     time.Duration
}

type Factory struct {
	logger  zerolog.Logger
	onClose func(Stats)
}

var _ hook.Decorator = (*Factory)(nil)

// NewFactory returns a decorator factory. onClose may be nil.
func NewFactory(logger zerolog.Logger, onClose func(Stats)) *Factory {
	return &Factory{
		logger:  logger,
		onClose: onClose,
	}
}

func (f *Factory) WrapBasic(kind hook.ConnKind, raw net.Conn) net.Conn {
	c := &basicConn{Conn: raw}
	if st, ok := raw.(tlsStater); ok && kind == hook.ConnSecure {
		return &secureBasicConn{basicConn: c, state: st}
	}

	return c
}

func (f *Factory) WrapStreaming(kind hook.ConnKind, raw net.Conn) net.Conn {
	c := newStreamConn(f, kind, raw)
	if st, ok := raw.(tlsStater); ok && kind == hook.ConnSecure {
		return &secureStreamConn{streamConn: c, state: st}
	}

	return c
}

// Unwrap returns the connection a wrapper was built around, or conn itself
// if it is not a wrapper.
func Unwrap(conn net.Conn) net.Conn {
	if w, ok := conn.(interface{ NetConn() net.Conn }); ok {
		return w.NetConn()
	}

	return conn
}

type basicConn struct {
	net.Conn
}

func (c *basicConn) NetConn() net.Conn {
	return c.Conn
}

type secureBasicConn struct {
	*basicConn
	state tlsStater
}

func (c *secureBasicConn) ConnectionState() tls.ConnectionState {
	return c.state.ConnectionState()
}
