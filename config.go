package domdrive

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domdrive/driver"
)

// Config is the top-level session configuration.
type Config struct {
	// URL is the page the session opens after the browser starts.
	URL string `yaml:"url"`

	// Registry is the path of the container definitions YAML file.
	Registry string `yaml:"registry"`

	// EventDB is the SQLite path for the bus event log and run reports.
	// Empty disables persistence.
	EventDB string `yaml:"event_db"`

	Browser BrowserConfig   `yaml:"browser"`
	Bus     BusConfig       `yaml:"bus"`
	Drivers []driver.Config `yaml:"drivers"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty launches a
	// local one.
	Remote          string        `yaml:"remote"`
	Headful         bool          `yaml:"headful"`
	Stealth         bool          `yaml:"stealth"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	EvalTimeout     time.Duration `yaml:"eval_timeout"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	// HistorySize bounds the per-topic replay window.
	HistorySize int `yaml:"history_size"`

	// EventBuffer sizes the async event log buffer.
	EventBuffer int `yaml:"event_buffer"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("domdrive: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("domdrive: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.EvalTimeout <= 0 {
		c.Browser.EvalTimeout = 15 * time.Second
	}
	if c.Bus.HistorySize <= 0 {
		c.Bus.HistorySize = 256
	}
	if c.Bus.EventBuffer <= 0 {
		c.Bus.EventBuffer = 1000
	}
}
