package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

func fromTomlFile(dir string) (*Config, error) {
	_ = os.Setenv("BURNTSUSHI_TOML_110", "1") // allow new lines in inline tables

	var cfg Config
	if _, err := toml.DecodeFile(dir, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fromTomlString(s string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(s, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func searchTomlFile(customDir string, lookupDirs []string) (string, error) {
	if customDir != "" {
		if _, err := os.Stat(customDir); err != nil {
			return "", fmt.Errorf("no such file: %s", customDir)
		}

		return customDir, nil
	}

	for _, p := range lookupDirs {
		if p == "" {
			continue
		}

		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// Missing config files are not an error.
	return "", nil
}
