package config

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/xvzc/connhook/internal/ptr"
)

const configFilename = "connhook.toml"

func CreateCommand(
	runFunc func(ctx context.Context, configDir string, cfg *Config) error,
	version string,
	commit string,
	build string,
) *cli.Command {
	cmd := &cli.Command{
		Name:        "connhook",
		Usage:       "forward proxy with per-tenant connection interception",
		Description: "Captures the platform connection handlers on first use and wraps every connection opened by a tenant.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name: "clean",
				Usage: `
				if set, all configuration files will be ignored`,
				OnlyOnce: true,
			},

			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage: `
				Custom location of the config file to load. Options given through the command
				line flags will override the options set in this file.`,
				OnlyOnce: true,
				Sources:  cli.EnvVars("CONNHOOK_CONFIG"),
			},

			&cli.StringFlag{
				Name: "listen-addr",
				Usage: `
				IP address and port to listen on (default: 127.0.0.1:8080)`,
				Value:     "127.0.0.1:8080",
				OnlyOnce:  true,
				Validator: checkHostPort,
			},

			&cli.StringFlag{
				Name: "log-level",
				Usage: `
				Set log level (default: 'info')`,
				Value:     "info",
				OnlyOnce:  true,
				Validator: checkLogLevel,
			},

			&cli.StringSliceFlag{
				Name: "protocol",
				Usage: `
				Protocol to intercept; one of 'http', 'https' and 'tcp'.
				Can be given multiple times (default: all of them)`,
				Validator: func(vs []string) error {
					for _, v := range vs {
						if err := checkProtocol(v); err != nil {
							return err
						}
					}

					return nil
				},
			},

			&cli.BoolFlag{
				Name: "proxy-from-env",
				Usage: `
				Select the upstream proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY`,
				OnlyOnce: true,
			},

			&cli.BoolFlag{
				Name: "silent",
				Usage: `
				Do not show the banner at start up`,
				OnlyOnce: true,
			},

			&cli.StringSliceFlag{
				Name: "tenant",
				Usage: `
				Tenant rule in the form 'app/module[:feature,...]'. Available features are
				'ignore-interception' and 'suppress-interception'. Can be given multiple times`,
				Validator: func(vs []string) error {
					for _, v := range vs {
						if _, err := ParseTenantRule(v); err != nil {
							return err
						}
					}

					return nil
				},
			},

			&cli.IntFlag{
				Name: "timeout",
				Usage: `
				Timeout for upstream connections in milliseconds; no timeout when 0 (default: 0)`,
				Value:     0,
				OnlyOnce:  true,
				Validator: checkUint32,
			},

			&cli.StringFlag{
				Name: "upstream-proxy",
				Usage: `
				Proxy used for every outbound connection, e.g. 'http://127.0.0.1:3128' or
				'socks5://127.0.0.1:1080'`,
				OnlyOnce:  true,
				Validator: checkProxyURL,
			},

			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"v"},
				Usage: `
				Print version; this may contain some other relevant information`,
				OnlyOnce: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Printf("connhook %s %s (%s)\n", version, commit, build)
				return nil
			}

			var tomlCfg *Config
			var configDir string
			if !cmd.Bool("clean") {
				configDirs := []string{
					path.Join(string(os.PathSeparator), "etc", configFilename),
					path.Join(os.Getenv("XDG_CONFIG_HOME"), "connhook", configFilename),
					path.Join(os.Getenv("HOME"), ".config", "connhook", configFilename),
				}

				c, err := searchTomlFile(cmd.String("config"), configDirs)
				if err != nil {
					return err
				}

				if c != "" {
					configDir = c
					tomlCfg, err = fromTomlFile(c)
					if err != nil {
						return fmt.Errorf("error parsing toml config: %w", err)
					}
				}
			}

			argsCfg, err := parseConfigFromArgs(cmd)
			if err != nil {
				return fmt.Errorf("error parsing config from args: %w", err)
			}

			finalCfg := NewDefaultConfig().Merge(tomlCfg).Merge(argsCfg)

			return runFunc(
				ctx,
				strings.Replace(configDir, os.Getenv("HOME"), "~", 1),
				finalCfg,
			)
		},
	}

	cli.HelpFlag = &cli.BoolFlag{
		Name:    "help",
		Aliases: []string{"h"},
		Usage: `
        show help`,
	}

	return cmd
}

// parseConfigFromArgs keeps only the flags given explicitly, so the toml file
// is not overridden by flag defaults.
func parseConfigFromArgs(cmd *cli.Command) (*Config, error) {
	cfg := &Config{
		General: &GeneralOptions{},
		Server:  &ServerOptions{},
		Hook:    &HookOptions{},
	}

	if cmd.IsSet("log-level") {
		cfg.General.LogLevel = ptr.FromValue(MustParseLogLevel(cmd.String("log-level")))
	}

	if cmd.IsSet("silent") {
		cfg.General.Silent = ptr.FromValue(cmd.Bool("silent"))
	}

	if cmd.IsSet("listen-addr") {
		cfg.Server.ListenAddr = ptr.FromValue(MustParseTCPAddr(cmd.String("listen-addr")))
	}

	if cmd.IsSet("timeout") {
		cfg.Server.Timeout = ptr.FromValue(time.Duration(cmd.Int("timeout")) * time.Millisecond)
	}

	if cmd.IsSet("protocol") {
		cfg.Hook.Protocols = cmd.StringSlice("protocol")
	}

	if cmd.IsSet("upstream-proxy") {
		cfg.Hook.UpstreamProxy = ptr.FromValue(MustParseURL(cmd.String("upstream-proxy")))
	}

	if cmd.IsSet("proxy-from-env") {
		cfg.Hook.ProxyFromEnv = ptr.FromValue(cmd.Bool("proxy-from-env"))
	}

	for _, s := range cmd.StringSlice("tenant") {
		r, err := ParseTenantRule(s)
		if err != nil {
			return nil, err
		}
		cfg.Tenants = append(cfg.Tenants, r)
	}

	return cfg, nil
}
