package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/exodash/internal/config"
)

// Environment variables read after .env is loaded.
const (
	envEndpoint = "EXODASH_ENDPOINT"
	envListen   = "EXODASH_LISTEN"
)

// overrides holds command-line values that win over the config file.
type overrides struct {
	listen   string
	layout   string
	endpoint string
}

// resolveConfig loads the config file, then applies environment variables and
// finally flags. An empty path uses the defaults file when present.
func resolveConfig(path string, o overrides, getenv func(string) string) (*config.DashboardConfig, error) {
	cfg := config.EmptyDashboardConfig()
	switch {
	case path != "":
		loaded, err := config.LoadDashboardConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			loaded, err := config.LoadDashboardConfig(config.DefaultConfigPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", config.DefaultConfigPath, err)
		}
	}

	if v := getenv(envEndpoint); v != "" {
		cfg.Endpoint = &v
	}
	if v := getenv(envListen); v != "" {
		cfg.Listen = &v
	}
	if o.endpoint != "" {
		cfg.Endpoint = &o.endpoint
	}
	if o.listen != "" {
		cfg.Listen = &o.listen
	}
	if o.layout != "" {
		cfg.Layout = &o.layout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
