package main

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xvzc/connhook/internal/config"
	"github.com/xvzc/connhook/internal/hook"
	"github.com/xvzc/connhook/internal/ptr"
)

func TestCreatePlatformOptions(t *testing.T) {
	upstream, err := url.Parse("socks5://127.0.0.1:1080")
	require.NoError(t, err)

	tcs := []struct {
		name   string
		hook   *config.HookOptions
		assert func(t *testing.T, proxy func(*url.URL) (*url.URL, error))
	}{
		{
			name: "direct",
			hook: &config.HookOptions{},
			assert: func(t *testing.T, proxy func(*url.URL) (*url.URL, error)) {
				assert.Nil(t, proxy)
			},
		},
		{
			name: "fixed upstream",
			hook: &config.HookOptions{UpstreamProxy: upstream, ProxyFromEnv: ptr.FromValue(true)},
			assert: func(t *testing.T, proxy func(*url.URL) (*url.URL, error)) {
				require.NotNil(t, proxy)
				got, err := proxy(&url.URL{Scheme: "tcp", Host: "example.com:22"})
				require.NoError(t, err)
				assert.Equal(t, upstream, got)
			},
		},
		{
			name: "environment",
			hook: &config.HookOptions{ProxyFromEnv: ptr.FromValue(true)},
			assert: func(t *testing.T, proxy func(*url.URL) (*url.URL, error)) {
				assert.NotNil(t, proxy)
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.Server.Timeout = ptr.FromValue(time.Second)
			cfg.Hook = tc.hook

			opts := createPlatformOptions(cfg)
			assert.Equal(t, time.Second, opts.Timeout)
			tc.assert(t, opts.Proxy)
		})
	}
}

func TestCreateHook(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Hook.Protocols = []string{"tcp"}

	table, factory, err := createHook(zerolog.Nop(), cfg)
	require.NoError(t, err)

	assert.True(t, factory.Claims("tcp"))
	assert.False(t, factory.Claims("http"))

	h, err := table.Handler(context.Background(), "tcp")
	require.NoError(t, err)
	assert.Same(t, factory.Interceptor(), h)
	assert.Equal(t, hook.StateInstalled, factory.State("tcp"))
}

func TestCreateProxy(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.ListenAddr = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}

	table, _, err := createHook(zerolog.Nop(), cfg)
	require.NoError(t, err)

	p := createProxy(zerolog.Nop(), cfg, table)
	require.NotNil(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not stop")
	}
}
