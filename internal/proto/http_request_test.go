package proto

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xvzc/connhook/internal/session"
)

func readRequest(t *testing.T, raw string) *HTTPRequest {
	t.Helper()

	req, err := ReadHttpRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	return req
}

func TestHTTPRequest_Ports(t *testing.T) {
	tcs := []struct {
		name     string
		raw      string
		domain   string
		port     int
		connect  bool
		absolute bool
	}{
		{
			name:     "absolute http",
			raw:      "GET http://example.com/a HTTP/1.1\r\nHost: example.com\r\n\r\n",
			domain:   "example.com",
			port:     80,
			absolute: true,
		},
		{
			name:     "absolute https with port",
			raw:      "GET https://example.com:8443/ HTTP/1.1\r\nHost: example.com:8443\r\n\r\n",
			domain:   "example.com",
			port:     8443,
			absolute: true,
		},
		{
			name:    "connect",
			raw:     "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n",
			domain:  "example.com",
			port:    443,
			connect: true,
		},
		{
			name:   "origin form",
			raw:    "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n",
			domain: "example.com",
			port:   80,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			req := readRequest(t, tc.raw)

			port, err := req.ExtractPort()
			require.NoError(t, err)
			assert.Equal(t, tc.port, port)
			assert.Equal(t, tc.domain, req.ExtractDomain())
			assert.Equal(t, tc.connect, req.IsConnectMethod())
			assert.Equal(t, tc.absolute, req.IsAbsoluteForm())
		})
	}
}

func TestHTTPRequest_PopTenant(t *testing.T) {
	req := readRequest(
		t,
		"GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nHook-Tenant: billing/api\r\n\r\n",
	)

	tenant, ok, err := req.PopTenant()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, session.Tenant{App: "billing", Module: "api"}, tenant)
	assert.Empty(t, req.Header.Get(TenantHeader))

	_, ok, err = req.PopTenant()
	assert.NoError(t, err)
	assert.False(t, ok)

	bad := readRequest(
		t,
		"GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nHook-Tenant: billing\r\n\r\n",
	)
	_, _, err = bad.PopTenant()
	assert.Error(t, err)
}

func TestHTTPRequest_Outbound(t *testing.T) {
	req := readRequest(
		t,
		"GET http://example.com/a HTTP/1.1\r\nHost: example.com\r\n"+
			"Proxy-Connection: keep-alive\r\nProxy-Authorization: Basic eA==\r\nX-Keep: 1\r\n\r\n",
	)

	out := req.Outbound()
	assert.Empty(t, out.RequestURI)
	assert.True(t, out.Close)
	assert.Empty(t, out.Header.Get("Proxy-Connection"))
	assert.Empty(t, out.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "1", out.Header.Get("X-Keep"))
	// original is untouched
	assert.Equal(t, "keep-alive", req.Header.Get("Proxy-Connection"))
}

func TestHTTPRequest_Responses(t *testing.T) {
	req := readRequest(t, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")

	assert.Equal(
		t,
		"HTTP/1.1 200 Connection Established\r\n\r\n",
		string(req.ConnEstablishedResponse()),
	)

	resp, err := http.ReadResponse(
		bufio.NewReader(strings.NewReader(string(req.ErrorResponse(http.StatusBadGateway)))),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.True(t, resp.Close)
}
