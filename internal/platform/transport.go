package platform

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// NewTransport returns an http.Transport whose dials resolve through the
// table. Connections are attributed to the context that opened them, so
// they are never pooled across requests.
//
// net/http fills resp.TLS only for a bare *tls.Conn from DialTLSContext.
// Intercepted https conns are wrappers, so their responses carry a nil
// resp.TLS; callers read the state from the conn's ConnectionState instead.
// HTTP/2 is not negotiated over wrapped conns for the same reason.
func NewTransport(t *Table) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return t.Open(ctx, "http", addr)
		},
		DialTLSContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return t.Open(ctx, "https", addr)
		},
		DisableKeepAlives:     true,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// EnvironmentProxy selects proxies from HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY. The "tcp" scheme follows the HTTPS rules.
func EnvironmentProxy() func(*url.URL) (*url.URL, error) {
	fn := httpproxy.FromEnvironment().ProxyFunc()
	return func(u *url.URL) (*url.URL, error) {
		if u.Scheme == "tcp" {
			v := *u
			v.Scheme = "https"
			return fn(&v)
		}
		return fn(u)
	}
}

// FixedProxy always selects proxy.
func FixedProxy(proxy *url.URL) func(*url.URL) (*url.URL, error) {
	return func(*url.URL) (*url.URL, error) {
		return proxy, nil
	}
}
