// Package config handles configuration loading and shared settings.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the environment defaults of the synchronization backend.
const (
	DefaultAPIURL         = "http://localhost:5000/getdata"
	DefaultDBFile         = "local_data.db"
	DefaultSyncInterval   = time.Hour
	DefaultRequestTimeout = 15 * time.Second
	DefaultTimeLayout     = "2006-01-02 15:04:05"
	DefaultTileURL        = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution    = "© OpenStreetMap contributors"
	DefaultZoom           = 12
)

// Config represents the root configuration file structure.
type Config struct {
	APIURL     string `yaml:"api_url"`
	DBFile     string `yaml:"db_file"`
	TimeLayout string `yaml:"time_layout,omitempty"`
	Map        Map    `yaml:"map"`

	// SyncInterval is the period of the background synchronization, 0 disables it.
	SyncInterval   time.Duration `yaml:"sync_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RequestGap is the minimum delay between two upstream requests.
	RequestGap time.Duration `yaml:"request_gap,omitempty"`

	// Keys present in the file, 0 is a valid value for both.
	syncIntervalSet bool
	requestGapSet   bool
}

// Map represents the initial map view of the panel.
type Map struct {
	TileURL     string     `yaml:"tile_url" json:"tile_url"`
	Attribution string     `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Center      [2]float64 `yaml:"center" json:"center"` // [Lat, Lon]
	Zoom        int        `yaml:"zoom,omitempty" json:"zoom"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		APIURL:         DefaultAPIURL,
		DBFile:         DefaultDBFile,
		SyncInterval:   DefaultSyncInterval,
		RequestTimeout: DefaultRequestTimeout,
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the YAML configuration file from the specified path.
// An empty path yields an empty configuration with map and layout defaults
// applied, so that command line values can fill the rest.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, eris.Wrapf(err, "config: parse %s", path)
		}

		var present struct {
			SyncInterval *time.Duration `yaml:"sync_interval"`
			RequestGap   *time.Duration `yaml:"request_gap"`
		}
		if err := yaml.Unmarshal(data, &present); err != nil {
			return nil, eris.Wrapf(err, "config: parse %s", path)
		}
		cfg.syncIntervalSet = present.SyncInterval != nil
		cfg.requestGapSet = present.RequestGap != nil
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeLayout == "" {
		c.TimeLayout = DefaultTimeLayout
	}
	if c.Map.TileURL == "" {
		c.Map.TileURL = DefaultTileURL
	}
	if c.Map.Attribution == "" {
		c.Map.Attribution = DefaultAttribution
	}
	if c.Map.Center == [2]float64{} {
		c.Map.Center = [2]float64{40.7128, -74.0060}
	}
	if c.Map.Zoom <= 0 {
		c.Map.Zoom = DefaultZoom
	}
}

// Validate checks the values required to run a synchronization.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return eris.New("config: api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return eris.Wrapf(err, "config: parse api_url %q", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("config: api_url %q must be http or https", c.APIURL)
	}
	if c.DBFile == "" {
		return eris.New("config: db_file is required")
	}
	if c.SyncInterval < 0 {
		return eris.New("config: sync_interval must not be negative")
	}
	return nil
}

// Fill sets every zero-valued field of c from fallback. Durations given
// explicitly in the file are kept even when zero.
func (c *Config) Fill(fallback Config) {
	if c.APIURL == "" {
		c.APIURL = fallback.APIURL
	}
	if c.DBFile == "" {
		c.DBFile = fallback.DBFile
	}
	if c.SyncInterval == 0 && !c.syncIntervalSet {
		c.SyncInterval = fallback.SyncInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = fallback.RequestTimeout
	}
	if c.RequestGap == 0 && !c.requestGapSet {
		c.RequestGap = fallback.RequestGap
	}
}
