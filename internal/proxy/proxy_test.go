package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/decorate"
	"github.com/xvzc/connhook/internal/hook"
	"github.com/xvzc/connhook/internal/platform"
	"github.com/xvzc/connhook/internal/proto"
	"github.com/xvzc/connhook/internal/session"
)

type fixture struct {
	addr     string
	registry *hook.Registry

	mu    sync.Mutex
	stats []decorate.Stats
}

func (f *fixture) closed() []decorate.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]decorate.Stats(nil), f.stats...)
}

func startProxy(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{registry: hook.NewRegistry()}

	table := platform.NewTable(zerolog.Nop(), platform.Options{Timeout: 5 * time.Second})
	decorator := decorate.NewFactory(zerolog.Nop(), func(st decorate.Stats) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stats = append(f.stats, st)
	})
	interceptor := hook.NewInterceptor(
		f.registry,
		session.Resolver{},
		compat.NewStore(nil),
		decorator,
	)
	factory := hook.NewFactory(
		zerolog.Nop(),
		table,
		f.registry,
		interceptor,
		[]string{"http", "https", "tcp"},
	)
	require.NoError(t, table.SetFactory(factory))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f.addr = l.Addr().String()

	pxy := NewProxy(zerolog.Nop(), table, platform.NewTransport(table), ProxyOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pxy.Serve(ctx, l)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return f
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "tenant=%q", r.Header.Get(proto.TenantHeader))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func proxyClient(t *testing.T, addr string) *http.Client {
	t.Helper()

	proxyURL, err := url.Parse("http://" + addr)
	require.NoError(t, err)

	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL), DisableKeepAlives: true},
		Timeout:   5 * time.Second,
	}
}

func TestProxy_Forward(t *testing.T) {
	tcs := []struct {
		name      string
		tenant    string
		wantStats int
	}{
		{name: "with tenant", tenant: "search/indexer", wantStats: 1},
		{name: "without tenant", tenant: "", wantStats: 0},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			srv := newBackend(t)
			f := startProxy(t)

			req, err := http.NewRequest(http.MethodGet, srv.URL+"/a", nil)
			require.NoError(t, err)
			if tc.tenant != "" {
				req.Header.Set(proto.TenantHeader, tc.tenant)
			}

			resp, err := proxyClient(t, f.addr).Do(req)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, `tenant=""`, string(body))
			assert.Equal(t, []string{"http"}, f.registry.Protocols())

			if tc.wantStats == 0 {
				time.Sleep(50 * time.Millisecond)
				assert.Empty(t, f.closed())
				return
			}

			require.Eventually(t, func() bool {
				return len(f.closed()) == tc.wantStats
			}, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, hook.ConnPlain, f.closed()[0].Kind)
		})
	}
}

func connect(t *testing.T, proxyAddr string, target string, tenant string) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", proxyAddr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	raw := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if tenant != "" {
		raw += proto.TenantHeader + ": " + tenant + "\r\n"
	}
	raw += "\r\n"

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)

	return conn, br, resp
}

func TestProxy_Connect(t *testing.T) {
	srv := newBackend(t)
	f := startProxy(t)

	target := srv.Listener.Addr().String()
	conn, br, resp := connect(t, f.addr, target, "search/indexer")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", target)
	require.NoError(t, err)

	inner, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(inner.Body)
	require.NoError(t, err)
	_ = inner.Body.Close()
	_ = conn.Close()

	assert.Equal(t, `tenant=""`, string(body))
	assert.Equal(t, []string{"tcp"}, f.registry.Protocols())

	require.Eventually(t, func() bool {
		return len(f.closed()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	st := f.closed()[0]
	assert.Equal(t, hook.ConnPlain, st.Kind)
	assert.Equal(t, target, st.Remote)
	assert.Positive(t, st.BytesRead)
	assert.Positive(t, st.BytesWritten)
}

func TestProxy_Rejections(t *testing.T) {
	closedAddr := func(t *testing.T) string {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		_ = l.Close()
		return addr
	}

	tcs := []struct {
		name string
		raw  func(t *testing.T, proxyAddr string) string
		want int
	}{
		{
			name: "invalid tenant header",
			raw: func(t *testing.T, _ string) string {
				return "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n" +
					proto.TenantHeader + ": nomodule\r\n\r\n"
			},
			want: http.StatusBadRequest,
		},
		{
			name: "origin form request",
			raw: func(t *testing.T, _ string) string {
				return "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
			},
			want: http.StatusBadRequest,
		},
		{
			name: "connect to the proxy itself",
			raw: func(t *testing.T, proxyAddr string) string {
				return fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", proxyAddr, proxyAddr)
			},
			want: http.StatusLoopDetected,
		},
		{
			name: "forward to the proxy itself",
			raw: func(t *testing.T, proxyAddr string) string {
				return fmt.Sprintf("GET http://%s/ HTTP/1.1\r\nHost: %s\r\n\r\n", proxyAddr, proxyAddr)
			},
			want: http.StatusLoopDetected,
		},
		{
			name: "unreachable connect target",
			raw: func(t *testing.T, _ string) string {
				addr := closedAddr(t)
				return fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", addr, addr)
			},
			want: http.StatusBadGateway,
		},
		{
			name: "unreachable forward target",
			raw: func(t *testing.T, _ string) string {
				addr := closedAddr(t)
				return fmt.Sprintf("GET http://%s/ HTTP/1.1\r\nHost: %s\r\n\r\n", addr, addr)
			},
			want: http.StatusBadGateway,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			f := startProxy(t)

			conn, err := net.DialTimeout("tcp", f.addr, 5*time.Second)
			require.NoError(t, err)
			defer func() { _ = conn.Close() }()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			_, err = io.WriteString(conn, tc.raw(t, f.addr))
			require.NoError(t, err)

			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
