package proto

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/xvzc/connhook/internal/session"
)

// TenantHeader attributes a proxied request to an "app/module" tenant.
const TenantHeader = "Hook-Tenant"

// hopHeaders are removed before a request is forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Upgrade",
}

// HTTPRequest wraps the standard http.Request with proxy helpers.
type HTTPRequest struct {
	*http.Request
}

func NewHttpRequest(req *http.Request) *HTTPRequest {
	return &HTTPRequest{Request: req}
}

func ReadHttpRequest(rdr *bufio.Reader) (*HTTPRequest, error) {
	req, err := http.ReadRequest(rdr)
	if err != nil {
		return nil, err
	}

	return NewHttpRequest(req), nil
}

// ExtractDomain returns the host without port information.
func (r *HTTPRequest) ExtractDomain() string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}

	return host
}

// ExtractPort returns the explicit port, or the scheme default.
func (r *HTTPRequest) ExtractPort() (int, error) {
	_, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		if r.Method == http.MethodConnect || r.URL.Scheme == "https" {
			return 443, nil
		}

		return 80, nil
	}

	return strconv.Atoi(port)
}

func (r *HTTPRequest) IsConnectMethod() bool {
	return r.Method == http.MethodConnect
}

// IsAbsoluteForm reports whether the request line carries a full
// http:// or https:// target.
func (r *HTTPRequest) IsAbsoluteForm() bool {
	return r.URL.IsAbs() && (r.URL.Scheme == "http" || r.URL.Scheme == "https")
}

// PopTenant reads the tenant header and removes it from the request.
func (r *HTTPRequest) PopTenant() (session.Tenant, bool, error) {
	v := r.Header.Get(TenantHeader)
	if v == "" {
		return session.Tenant{}, false, nil
	}
	r.Header.Del(TenantHeader)

	t, err := session.ParseTenant(v)
	if err != nil {
		return session.Tenant{}, false, err
	}

	return t, true, nil
}

// Outbound prepares the request to be sent upstream by a RoundTripper.
func (r *HTTPRequest) Outbound() *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Close = true

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	return out
}

func (r *HTTPRequest) ConnEstablishedResponse() []byte {
	return []byte(r.Proto + " 200 Connection Established\r\n\r\n")
}

func (r *HTTPRequest) ErrorResponse(code int) []byte {
	return fmt.Appendf(
		nil,
		"%s %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		r.Proto,
		code,
		http.StatusText(code),
	)
}
