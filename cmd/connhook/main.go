package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/xvzc/connhook/internal/compat"
	"github.com/xvzc/connhook/internal/config"
	"github.com/xvzc/connhook/internal/decorate"
	"github.com/xvzc/connhook/internal/hook"
	"github.com/xvzc/connhook/internal/logging"
	"github.com/xvzc/connhook/internal/platform"
	"github.com/xvzc/connhook/internal/proxy"
	"github.com/xvzc/connhook/internal/ptr"
	"github.com/xvzc/connhook/internal/session"
)

// Version information set by linker flags during build.
var (
	version = "dev"
	commit  = "unknown"
	build   = "unknown"
)

func main() {
	cmd := config.CreateCommand(runApp, version, commit, build)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
	)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "connhook: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func runApp(ctx context.Context, configDir string, cfg *config.Config) error {
	logger := logging.NewLogger(ptr.FromPtr(cfg.General.LogLevel))
	mainLogger := logging.WithScope(logger, "MAIN")

	if !ptr.FromPtr(cfg.General.Silent) {
		printBanner(configDir, cfg)
	}

	table, factory, err := createHook(logger, cfg)
	if err != nil {
		return err
	}

	mainLogger.Info().
		Strs("protocols", factory.Protocols()).
		Int("tenant_rules", len(cfg.Tenants)).
		Msg("handler factory installed")

	p := createProxy(logger, cfg, table)
	if err := p.ListenAndServe(ctx); err != nil {
		return err
	}

	mainLogger.Info().
		Uint64("captures", factory.Captures()).
		Msg("shutting down")

	return nil
}

// createHook builds the platform table and installs the intercepting
// handler factory on it.
func createHook(logger zerolog.Logger, cfg *config.Config) (*platform.Table, *hook.Factory, error) {
	table := platform.NewTable(
		logging.WithScope(logger, "PLATFORM"),
		createPlatformOptions(cfg),
	)

	decorateLogger := logging.WithScope(logger, "CONN")
	decorator := decorate.NewFactory(decorateLogger, func(st decorate.Stats) {
		decorateLogger.Info().
			Str("conn_id", st.ID).
			Str("kind", st.Kind.String()).
			Str("remote", st.Remote).
			Int64("read", st.BytesRead).
			Int64("written", st.BytesWritten).
			Dur("took", st.Duration).
			Msg("closed")
	})

	registry := hook.NewRegistry()
	interceptor := hook.NewInterceptor(
		registry,
		session.Resolver{},
		compat.NewStore(cfg.CompatRules()),
		decorator,
	)

	factory := hook.NewFactory(
		logging.WithScope(logger, "HOOK"),
		table,
		registry,
		interceptor,
		cfg.Hook.Protocols,
	)

	if err := table.SetFactory(factory); err != nil {
		return nil, nil, fmt.Errorf("error installing handler factory: %w", err)
	}

	return table, factory, nil
}

func createPlatformOptions(cfg *config.Config) platform.Options {
	opts := platform.Options{Timeout: ptr.FromPtr(cfg.Server.Timeout)}

	switch {
	case cfg.Hook.UpstreamProxy != nil:
		opts.Proxy = platform.FixedProxy(cfg.Hook.UpstreamProxy)
	case ptr.FromPtr(cfg.Hook.ProxyFromEnv):
		opts.Proxy = platform.EnvironmentProxy()
	}

	return opts
}

func createProxy(logger zerolog.Logger, cfg *config.Config, table *platform.Table) *proxy.Proxy {
	return proxy.NewProxy(
		logging.WithScope(logger, "PROXY"),
		table,
		platform.NewTransport(table),
		proxy.ProxyOptions{ListenAddr: cfg.Server.ListenAddr},
	)
}

func printBanner(configDir string, cfg *config.Config) {
	const banner = `
                         __               __
  _________  ____  ____ / /_  ____  ____ / /__
 / ___/ __ \/ __ \/ __ \/ __ \/ __ \/ __ \/ //_/
/ /__/ /_/ / / / / / / / / / / /_/ / /_/ / ,<
\___/\____/_/ /_/_/ /_/_/ /_/\____/\____/_/|_|
`

	upstream := "direct"
	if cfg.Hook.UpstreamProxy != nil {
		upstream = cfg.Hook.UpstreamProxy.Redacted()
	} else if ptr.FromPtr(cfg.Hook.ProxyFromEnv) {
		upstream = "environment"
	}

	if configDir == "" {
		configDir = "none"
	}

	fmt.Print(banner)
	fmt.Printf("\n")
	fmt.Printf(" • LISTEN_ADDR : %s\n", cfg.Server.ListenAddr)
	fmt.Printf(" • PROTOCOLS   : %s\n", strings.Join(cfg.Hook.Protocols, ", "))
	fmt.Printf(" • UPSTREAM    : %s\n", upstream)
	fmt.Printf(" • TENANTS     : %d\n", len(cfg.Tenants))
	fmt.Printf(" • CONFIG      : %s\n", configDir)
	fmt.Printf("\n")
	fmt.Printf("Press 'CTRL + c' to quit\n")
	fmt.Printf("\n")
}
