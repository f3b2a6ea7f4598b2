package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/ptr"
)

type merger[T any] interface {
	Clone() T
	Merge(overrides T) T
}

// ┌─────────────────┐
// │ GENERAL OPTIONS │
// └─────────────────┘
var _ merger[*GeneralOptions] = (*GeneralOptions)(nil)

type GeneralOptions struct {
	LogLevel *zerolog.Level `toml:"log-level"`
	Silent   *bool          `toml:"silent"`
}

func (o *GeneralOptions) UnmarshalTOML(data any) (err error) {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("non-table type general config")
	}

	o.Silent = findFrom(m, "silent", parseBoolFn(), &err)
	if p := findFrom(m, "log-level", parseStringFn(checkLogLevel), &err); isOk(p, err) {
		o.LogLevel = ptr.FromValue(MustParseLogLevel(*p))
	}

	return err
}

func (o *GeneralOptions) Clone() *GeneralOptions {
	if o == nil {
		return nil
	}

	return &GeneralOptions{
		LogLevel: ptr.Clone(o.LogLevel),
		Silent:   ptr.Clone(o.Silent),
	}
}

func (origin *GeneralOptions) Merge(overrides *GeneralOptions) *GeneralOptions {
	if overrides == nil {
		return origin.Clone()
	}

	if origin == nil {
		return overrides.Clone()
	}

	return &GeneralOptions{
		LogLevel: ptr.CloneOr(overrides.LogLevel, origin.LogLevel),
		Silent:   ptr.CloneOr(overrides.Silent, origin.Silent),
	}
}

// ┌────────────────┐
// │ SERVER OPTIONS │
// └────────────────┘
var _ merger[*ServerOptions] = (*ServerOptions)(nil)

type ServerOptions struct {
	ListenAddr *net.TCPAddr   `toml:"listen-addr"`
	Timeout    *time.Duration `toml:"timeout"`
}

func (o *ServerOptions) UnmarshalTOML(data any) (err error) {
	v, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("non-table type server config")
	}

	if p := findFrom(v, "listen-addr", parseStringFn(checkHostPort), &err); isOk(p, err) {
		o.ListenAddr = ptr.FromValue(MustParseTCPAddr(*p))
	}

	if p := findFrom(v, "timeout", parseIntFn[uint32](checkUint32), &err); isOk(p, err) {
		o.Timeout = ptr.FromValue(time.Duration(*p) * time.Millisecond)
	}

	return err
}

func (o *ServerOptions) Clone() *ServerOptions {
	if o == nil {
		return nil
	}

	var newAddr *net.TCPAddr
	if o.ListenAddr != nil {
		newAddr = &net.TCPAddr{
			IP:   append(net.IP(nil), o.ListenAddr.IP...),
			Port: o.ListenAddr.Port,
			Zone: o.ListenAddr.Zone,
		}
	}

	return &ServerOptions{
		ListenAddr: newAddr,
		Timeout:    ptr.Clone(o.Timeout),
	}
}

func (origin *ServerOptions) Merge(overrides *ServerOptions) *ServerOptions {
	if overrides == nil {
		return origin.Clone()
	}

	if origin == nil {
		return overrides.Clone()
	}

	return &ServerOptions{
		ListenAddr: ptr.CloneOr(overrides.ListenAddr, origin.ListenAddr),
		Timeout:    ptr.CloneOr(overrides.Timeout, origin.Timeout),
	}
}

// ┌──────────────┐
// │ HOOK OPTIONS │
// └──────────────┘
var _ merger[*HookOptions] = (*HookOptions)(nil)

type HookOptions struct {
	Protocols     []string `toml:"protocols"`
	UpstreamProxy *url.URL `toml:"upstream-proxy"`
	ProxyFromEnv  *bool    `toml:"proxy-from-env"`
}

func (o *HookOptions) UnmarshalTOML(data any) (err error) {
	v, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("non-table type hook config")
	}

	o.Protocols = findSliceFrom(v, "protocols", parseStringFn(checkProtocol), &err)
	o.ProxyFromEnv = findFrom(v, "proxy-from-env", parseBoolFn(), &err)
	if p := findFrom(v, "upstream-proxy", parseStringFn(checkProxyURL), &err); isOk(p, err) {
		o.UpstreamProxy = ptr.FromValue(MustParseURL(*p))
	}

	return err
}

func (o *HookOptions) Clone() *HookOptions {
	if o == nil {
		return nil
	}

	var newProxy *url.URL
	if o.UpstreamProxy != nil {
		newProxy = ptr.FromValue(*o.UpstreamProxy)
		if o.UpstreamProxy.User != nil {
			newProxy.User = ptr.FromValue(*o.UpstreamProxy.User)
		}
	}

	return &HookOptions{
		Protocols:     ptr.CloneSlice(o.Protocols),
		UpstreamProxy: newProxy,
		ProxyFromEnv:  ptr.Clone(o.ProxyFromEnv),
	}
}

func (origin *HookOptions) Merge(overrides *HookOptions) *HookOptions {
	if overrides == nil {
		return origin.Clone()
	}

	if origin == nil {
		return overrides.Clone()
	}

	merged := &HookOptions{
		Protocols:    ptr.CloneSliceOr(overrides.Protocols, origin.Protocols),
		ProxyFromEnv: ptr.CloneOr(overrides.ProxyFromEnv, origin.ProxyFromEnv),
	}

	if overrides.UpstreamProxy != nil {
		merged.UpstreamProxy = overrides.Clone().UpstreamProxy
	} else {
		merged.UpstreamProxy = origin.Clone().UpstreamProxy
	}

	return merged
}

// ┌─────────────┐
// │ TENANT RULE │
// └─────────────┘
type TenantRule struct {
	App      *string          `toml:"app"`
	Module   *string          `toml:"module"`
	Features []compat.Feature `toml:"features"`
}

func (r *TenantRule) UnmarshalTOML(data any) (err error) {
	v, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("non-table type tenant rule")
	}

	r.App = findFrom(v, "app", parseStringFn(nil), &err)
	r.Module = findFrom(v, "module", parseStringFn(nil), &err)
	names := findSliceFrom(v, "features", parseStringFn(checkFeature), &err)
	if err != nil {
		return err
	}

	for _, name := range names {
		f, _ := compat.ParseFeature(name)
		if !slices.Contains(r.Features, f) {
			r.Features = append(r.Features, f)
		}
	}

	return checkTenantRule(*r)
}

func (r TenantRule) Clone() TenantRule {
	return TenantRule{
		App:      ptr.Clone(r.App),
		Module:   ptr.Clone(r.Module),
		Features: ptr.CloneSlice(r.Features),
	}
}

func (r TenantRule) String() string {
	names := make([]string, 0, len(r.Features))
	for _, f := range r.Features {
		names = append(names, f.String())
	}

	return fmt.Sprintf(
		"%s/%s:%s",
		ptr.FromPtr(r.App),
		ptr.FromPtr(r.Module),
		strings.Join(names, ","),
	)
}
