package platform

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
)

var ErrProxyRejected = errors.New("platform: proxy rejected tunnel")

func (t *Table) dialProxy(
	ctx context.Context,
	dialer *net.Dialer,
	proxy *url.URL,
	addr string,
) (net.Conn, error) {
	switch proxy.Scheme {
	case "http":
		return t.connectTunnel(ctx, proxy, addr)
	case "socks5", "socks5h":
		d, err := xproxy.FromURL(proxy, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", proxy.Host, err)
		}
		if cd, ok := d.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return d.Dial("tcp", addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxy.Scheme)
	}
}

// connectTunnel opens addr through an HTTP/1.1 CONNECT proxy. The proxy
// connection itself is opened through the table's http handler.
func (t *Table) connectTunnel(ctx context.Context, proxy *url.URL, addr string) (net.Conn, error) {
	h, err := t.Handler(ctx, "http")
	if err != nil {
		return nil, err
	}

	conn, err := h.OpenVia(ctx, &url.URL{Scheme: "http", Host: proxy.Host}, nil)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", proxy.Host, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	req := &http.Request{
		Method:     http.MethodConnect,
		URL:        &url.URL{Opaque: addr},
		Host:       addr,
		Header:     make(http.Header),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	if u := proxy.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}

	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write CONNECT to %s: %w", proxy.Host, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read CONNECT response from %s: %w", proxy.Host, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrProxyRejected, resp.Status)
	}

	if br.Buffered() == 0 {
		return conn, nil
	}

	return &bufferedConn{Conn: conn, reader: br}, nil
}

// bufferedConn keeps bytes the proxy sent right after its response.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.reader.Read(b)
}
