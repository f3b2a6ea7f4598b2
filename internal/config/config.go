package config

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/ptr"
	"github.com/xvzc/connhook/internal/session"
)

var _ merger[*Config] = (*Config)(nil)

type Config struct {
	General *GeneralOptions `toml:"general"`
	Server  *ServerOptions  `toml:"server"`
	Hook    *HookOptions    `toml:"hook"`
	Tenants []TenantRule    `toml:"tenant"`
}

func (c *Config) UnmarshalTOML(data any) (err error) {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("non-table type config")
	}

	c.General = findStructFrom[GeneralOptions](m, "general", &err)
	c.Server = findStructFrom[ServerOptions](m, "server", &err)
	c.Hook = findStructFrom[HookOptions](m, "hook", &err)
	c.Tenants = findStructSliceFrom[TenantRule](m, "tenant", &err)

	return err
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	var tenants []TenantRule
	if c.Tenants != nil {
		tenants = make([]TenantRule, 0, len(c.Tenants))
		for _, r := range c.Tenants {
			tenants = append(tenants, r.Clone())
		}
	}

	return &Config{
		General: c.General.Clone(),
		Server:  c.Server.Clone(),
		Hook:    c.Hook.Clone(),
		Tenants: tenants,
	}
}

// Merge returns a new config where every option set in overrides wins.
// Tenant rules are appended, so a later rule for the same tenant adds features.
func (origin *Config) Merge(overrides *Config) *Config {
	if overrides == nil {
		return origin.Clone()
	}

	if origin == nil {
		return overrides.Clone()
	}

	merged := &Config{
		General: origin.General.Merge(overrides.General),
		Server:  origin.Server.Merge(overrides.Server),
		Hook:    origin.Hook.Merge(overrides.Hook),
	}

	for _, r := range origin.Tenants {
		merged.Tenants = append(merged.Tenants, r.Clone())
	}
	for _, r := range overrides.Tenants {
		merged.Tenants = append(merged.Tenants, r.Clone())
	}

	return merged
}

func NewDefaultConfig() *Config {
	return &Config{
		General: &GeneralOptions{
			LogLevel: ptr.FromValue(zerolog.InfoLevel),
			Silent:   ptr.FromValue(false),
		},
		Server: &ServerOptions{
			ListenAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080},
			Timeout:    ptr.FromValue(time.Duration(0)),
		},
		Hook: &HookOptions{
			Protocols:    []string{"http", "https", "tcp"},
			ProxyFromEnv: ptr.FromValue(false),
		},
	}
}

// CompatRules folds the tenant rules into one rule per tenant.
func (c *Config) CompatRules() []compat.Rule {
	var rules []compat.Rule
	index := map[session.Tenant]int{}

	for _, r := range c.Tenants {
		t := session.Tenant{App: ptr.FromPtr(r.App), Module: ptr.FromPtr(r.Module)}
		i, ok := index[t]
		if !ok {
			index[t] = len(rules)
			rules = append(rules, compat.Rule{Tenant: t})
			i = len(rules) - 1
		}
		rules[i].Features = append(rules[i].Features, r.Features...)
	}

	return rules
}
