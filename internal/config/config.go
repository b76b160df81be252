// Package config loads the application configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

const (
	defaultDataPath    = "data/printer_models.json"
	defaultListenHTTP  = "127.0.0.1:8765"
	defaultScanSeconds = 8
)

var errChunkSizeNegative = errors.New("print.chunk_size must be non-negative")
var errIntervalNegative = errors.New("print.interval_ms must be non-negative")
var errScanTimeoutInvalid = errors.New("scan.timeout_seconds must be positive")

// ListenConfig defines the HTTP control surface listener.
type ListenConfig struct {
	HTTP string `yaml:"http"`
}

// ScanConfig tunes device discovery.
type ScanConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	Classic        bool `yaml:"classic"`
	BLE            bool `yaml:"ble"`
}

// PrintConfig overrides the per-model transport parameters. Zero
// values defer to the resolved printer model.
type PrintConfig struct {
	ChunkSize  int `yaml:"chunk_size,omitempty"`
	IntervalMs int `yaml:"interval_ms,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	DataPath      string       `yaml:"data_path"`
	DefaultDevice string       `yaml:"default_device,omitempty"`
	Listen        ListenConfig `yaml:"listen"`
	Scan          ScanConfig   `yaml:"scan"`
	Print         PrintConfig  `yaml:"print"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataPath: defaultDataPath,
		Listen:   ListenConfig{HTTP: defaultListenHTTP},
		Scan:     ScanConfig{TimeoutSeconds: defaultScanSeconds, Classic: true, BLE: true},
	}
}

// Load reads the YAML config at path. A missing file is not an error;
// the defaults apply. An unreadable or invalid file is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataPath == "" {
		c.DataPath = defaultDataPath
	}
	if c.Listen.HTTP == "" {
		c.Listen.HTTP = defaultListenHTTP
	}
	if c.Scan.TimeoutSeconds == 0 {
		c.Scan.TimeoutSeconds = defaultScanSeconds
	}
	if !c.Scan.Classic && !c.Scan.BLE {
		c.Scan.Classic = true
		c.Scan.BLE = true
	}
}

// Validate rejects values no component could act on.
func (c *Config) Validate() error {
	if c.Scan.TimeoutSeconds <= 0 {
		return errScanTimeoutInvalid
	}
	if c.Print.ChunkSize < 0 {
		return errChunkSizeNegative
	}
	if c.Print.IntervalMs < 0 {
		return errIntervalNegative
	}
	return nil
}

// ScanTimeout returns the scan timeout as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds) * time.Second
}

// PrintInterval returns the configured inter-chunk delay, or zero when
// the model's own interval should be used.
func (c *Config) PrintInterval() time.Duration {
	return time.Duration(c.Print.IntervalMs) * time.Millisecond
}
