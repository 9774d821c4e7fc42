package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/exodash/internal/exoplanet"
)

// DefaultConfigPath is the path to the canonical dashboard defaults file.
const DefaultConfigPath = "config/dashboard.defaults.json"

// MaxLimit is the largest row count requested from the data source.
const MaxLimit = 2000

const maxFileSize = 1 * 1024 * 1024 // 1MB

// DashboardConfig is the root configuration. Every field is optional; the
// Get* methods supply defaults for anything left unset, so partial files are
// safe. The same keys are accepted from JSON and YAML.
type DashboardConfig struct {
	// Data source
	Endpoint     *string           `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Query        *string           `json:"query,omitempty" yaml:"query,omitempty"`
	Limit        *int              `json:"limit,omitempty" yaml:"limit,omitempty"`
	FetchTimeout *string           `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"` // duration string like "30s"
	MaxBodyBytes *int64            `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
	Fields       map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"` // semantic name -> provider path

	// Derivation
	StarRadiusEdges []float64 `json:"star_radius_edges,omitempty" yaml:"star_radius_edges,omitempty"`

	// Controls
	DefaultRadiusMin *float64  `json:"default_radius_min,omitempty" yaml:"default_radius_min,omitempty"`
	DefaultRadiusMax *float64  `json:"default_radius_max,omitempty" yaml:"default_radius_max,omitempty"`
	DefaultStarSizes []string  `json:"default_star_sizes,omitempty" yaml:"default_star_sizes,omitempty"`
	RadiusMarks      []float64 `json:"radius_marks,omitempty" yaml:"radius_marks,omitempty"`

	// Host
	Listen            *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Layout            *string `json:"layout,omitempty" yaml:"layout,omitempty"` // "plain" or "grid"
	Title             *string `json:"title,omitempty" yaml:"title,omitempty"`
	EChartsAssetsHost *string `json:"echarts_assets_host,omitempty" yaml:"echarts_assets_host,omitempty"`
}

// Layout names accepted by the dashboard.
const (
	LayoutPlain = "plain"
	LayoutGrid  = "grid"
)

// EmptyDashboardConfig returns a DashboardConfig with all fields unset.
func EmptyDashboardConfig() *DashboardConfig {
	return &DashboardConfig{}
}

// LoadDashboardConfig loads a DashboardConfig from a .json, .yaml or .yml file.
// Fields omitted from the file keep their defaults.
func LoadDashboardConfig(path string) (*DashboardConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDashboardConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DashboardConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDashboardConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *DashboardConfig) Validate() error {
	if c.Limit != nil && (*c.Limit <= 0 || *c.Limit > MaxLimit) {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, *c.Limit)
	}
	if c.FetchTimeout != nil && *c.FetchTimeout != "" {
		d, err := time.ParseDuration(*c.FetchTimeout)
		if err != nil {
			return fmt.Errorf("invalid fetch_timeout '%s': %w", *c.FetchTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("fetch_timeout must be positive, got %s", d)
		}
	}
	if c.MaxBodyBytes != nil && *c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", *c.MaxBodyBytes)
	}
	if c.Endpoint != nil && !strings.HasPrefix(*c.Endpoint, "http://") && !strings.HasPrefix(*c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", *c.Endpoint)
	}
	if c.StarRadiusEdges != nil {
		if _, err := exoplanet.NewBuckets(c.StarRadiusEdges, exoplanet.StarSizes); err != nil {
			return fmt.Errorf("star_radius_edges: %w", err)
		}
	}
	for _, v := range []*float64{c.DefaultRadiusMin, c.DefaultRadiusMax} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("default radius bounds must be finite")
		}
	}
	if c.DefaultStarSizes != nil {
		if _, err := exoplanet.ParseSelection(c.DefaultStarSizes); err != nil {
			return fmt.Errorf("default_star_sizes: %w", err)
		}
	}
	if c.Layout != nil && *c.Layout != LayoutPlain && *c.Layout != LayoutGrid {
		return fmt.Errorf("layout must be %q or %q, got %q", LayoutPlain, LayoutGrid, *c.Layout)
	}
	return nil
}

// GetEndpoint returns the data source base URL.
func (c *DashboardConfig) GetEndpoint() string {
	if c.Endpoint == nil || *c.Endpoint == "" {
		return "http://asterank.com/api/kepler"
	}
	return *c.Endpoint
}

// GetQuery returns the provider query expression.
func (c *DashboardConfig) GetQuery() string {
	if c.Query == nil || *c.Query == "" {
		return "{}"
	}
	return *c.Query
}

// GetLimit returns the requested row count.
func (c *DashboardConfig) GetLimit() int {
	if c.Limit == nil {
		return MaxLimit
	}
	return *c.Limit
}

// GetFetchTimeout parses and returns FetchTimeout as a time.Duration.
func (c *DashboardConfig) GetFetchTimeout() time.Duration {
	if c.FetchTimeout == nil || *c.FetchTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.FetchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetMaxBodyBytes returns the response size limit.
func (c *DashboardConfig) GetMaxBodyBytes() int64 {
	if c.MaxBodyBytes == nil {
		return 64 << 20
	}
	return *c.MaxBodyBytes
}

// GetFields returns the provider field overrides keyed by semantic name.
func (c *DashboardConfig) GetFields() map[string]string {
	out := make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		out[k] = v
	}
	return out
}

// GetBuckets returns the star radius buckets.
func (c *DashboardConfig) GetBuckets() exoplanet.Buckets {
	if c.StarRadiusEdges == nil {
		return exoplanet.DefaultBuckets()
	}
	b, err := exoplanet.NewBuckets(c.StarRadiusEdges, exoplanet.StarSizes)
	if err != nil {
		return exoplanet.DefaultBuckets()
	}
	return b
}

// GetDefaultFilterState returns the control values shown on first render.
func (c *DashboardConfig) GetDefaultFilterState() exoplanet.FilterState {
	fs := exoplanet.DefaultFilterState()
	if c.DefaultRadiusMin != nil {
		fs.Radius.Min = *c.DefaultRadiusMin
	}
	if c.DefaultRadiusMax != nil {
		fs.Radius.Max = *c.DefaultRadiusMax
	}
	if c.DefaultStarSizes != nil {
		if sel, err := exoplanet.ParseSelection(c.DefaultStarSizes); err == nil {
			fs.StarSizes = sel
		}
	}
	return fs
}

// GetRadiusMarks returns the labelled ticks of the radius slider.
func (c *DashboardConfig) GetRadiusMarks() []float64 {
	if c.RadiusMarks == nil {
		return []float64{5, 10, 20}
	}
	return append([]float64(nil), c.RadiusMarks...)
}

// GetListen returns the HTTP listen address.
func (c *DashboardConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8050"
	}
	return *c.Listen
}

// GetLayout returns the page layout name.
func (c *DashboardConfig) GetLayout() string {
	if c.Layout == nil || *c.Layout == "" {
		return LayoutPlain
	}
	return *c.Layout
}

// GetTitle returns the page heading.
func (c *DashboardConfig) GetTitle() string {
	if c.Title == nil || *c.Title == "" {
		return "DashGraph"
	}
	return *c.Title
}

// GetEChartsAssetsHost returns where rendered charts load echarts.js from.
func (c *DashboardConfig) GetEChartsAssetsHost() string {
	if c.EChartsAssetsHost == nil || *c.EChartsAssetsHost == "" {
		return "https://go-echarts.github.io/go-echarts-assets/assets/"
	}
	return *c.EChartsAssetsHost
}
