package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"slices"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/compat"
)

var (
	availableProtocols    = []string{"http", "https", "tcp"}
	availableProxySchemes = []string{"http", "socks5", "socks5h"}
)

func checkUint16(v int) error {
	if v < 0 || math.MaxUint16 < v {
		return fmt.Errorf("out of range[%d-%d]", 0, math.MaxUint16)
	}

	return nil
}

func checkUint32(v int) error {
	if v < 0 || math.MaxUint32 < v {
		return fmt.Errorf("out of range[%d-%d]", 0, uint32(math.MaxUint32))
	}

	return nil
}

func checkLogLevel(v string) error {
	if _, err := zerolog.ParseLevel(v); err != nil || v == "" {
		return fmt.Errorf("invalid level string %q", v)
	}

	return nil
}

func checkHostPort(v string) error {
	host, port, err := net.SplitHostPort(v)
	if err != nil {
		return fmt.Errorf("wrong format %q: %w", v, err)
	}

	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("wrong ip address %q", host)
	}

	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("wrong port %q", port)
	}

	return nil
}

func checkProtocol(v string) error {
	if !slices.Contains(availableProtocols, v) {
		return fmt.Errorf("unsupported protocol %q, expected one of %v", v, availableProtocols)
	}

	return nil
}

func checkProxyURL(v string) error {
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("wrong proxy url %q: %w", v, err)
	}

	if !slices.Contains(availableProxySchemes, u.Scheme) {
		return fmt.Errorf("unsupported proxy scheme %q, expected one of %v",
			u.Scheme, availableProxySchemes)
	}

	if u.Host == "" {
		return fmt.Errorf("proxy url %q has no host", v)
	}

	return nil
}

func checkFeature(v string) error {
	_, err := compat.ParseFeature(v)
	return err
}

func checkTenantRule(r TenantRule) error {
	if r.App == nil || *r.App == "" {
		return fmt.Errorf("'app' is required")
	}

	if r.Module == nil || *r.Module == "" {
		return fmt.Errorf("'module' is required")
	}

	return nil
}
