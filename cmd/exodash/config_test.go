package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/exodash/internal/config"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "dash.yaml", "endpoint: https://file.example/api\nlisten: \":9000\"\nlayout: grid\nfetch_timeout: 5s\n")

	tests := []struct {
		name         string
		o            overrides
		env          map[string]string
		wantEndpoint string
		wantListen   string
		wantLayout   string
	}{
		{
			name:         "file only",
			wantEndpoint: "https://file.example/api",
			wantListen:   ":9000",
			wantLayout:   config.LayoutGrid,
		},
		{
			name:         "env beats file",
			env:          map[string]string{envEndpoint: "https://env.example/api", envListen: ":9100"},
			wantEndpoint: "https://env.example/api",
			wantListen:   ":9100",
			wantLayout:   config.LayoutGrid,
		},
		{
			name:         "flags beat env",
			o:            overrides{endpoint: "https://flag.example/api", listen: ":9200", layout: config.LayoutPlain},
			env:          map[string]string{envEndpoint: "https://env.example/api", envListen: ":9100"},
			wantEndpoint: "https://flag.example/api",
			wantListen:   ":9200",
			wantLayout:   config.LayoutPlain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := resolveConfig(path, tt.o, envFrom(tt.env))
			if err != nil {
				t.Fatalf("resolveConfig: %v", err)
			}
			if got := cfg.GetEndpoint(); got != tt.wantEndpoint {
				t.Errorf("endpoint = %q, want %q", got, tt.wantEndpoint)
			}
			if got := cfg.GetListen(); got != tt.wantListen {
				t.Errorf("listen = %q, want %q", got, tt.wantListen)
			}
			if got := cfg.GetLayout(); got != tt.wantLayout {
				t.Errorf("layout = %q, want %q", got, tt.wantLayout)
			}
			if got := cfg.GetFetchTimeout(); got != 5*time.Second {
				t.Errorf("fetch timeout = %v, want 5s", got)
			}
		})
	}
}

func TestResolveConfigRejectsBadOverrides(t *testing.T) {
	path := writeConfig(t, "dash.json", `{"limit": 10}`)

	if _, err := resolveConfig(path, overrides{layout: "fancy"}, envFrom(nil)); err == nil {
		t.Error("expected error for unknown layout")
	}
	if _, err := resolveConfig(path, overrides{endpoint: "ftp://example.com"}, envFrom(nil)); err == nil {
		t.Error("expected error for non-http endpoint")
	}
	if _, err := resolveConfig(filepath.Join(t.TempDir(), "missing.json"), overrides{}, envFrom(nil)); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestResolveConfigWithoutFile(t *testing.T) {
	// The package directory has no config/ subdirectory, so defaults apply.
	cfg, err := resolveConfig("", overrides{}, envFrom(nil))
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if got := cfg.GetListen(); got != ":8050" {
		t.Errorf("listen = %q, want :8050", got)
	}
	fs := cfg.GetDefaultFilterState()
	if fs.Radius.Min != 5 || fs.Radius.Max != 50 {
		t.Errorf("default radius = %+v", fs.Radius)
	}
}
