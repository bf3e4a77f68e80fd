// Package config loads the agent's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig      `yaml:"http"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Buffer   BufferConfig    `yaml:"buffer"`
	Devices  string          `yaml:"devices"`
	Adapters []AdapterConfig `yaml:"adapters"`
	Version  string          `yaml:"version"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type BufferConfig struct {
	// Observations is the circular sample buffer capacity.
	Observations uint64 `yaml:"observations"`
	// Assets is the asset history capacity.
	Assets int `yaml:"assets"`
	// MaxReplay bounds how far current?at= requests may rewind.
	MaxReplay uint64 `yaml:"max_replay"`
}

type AdapterConfig struct {
	// Device is the uuid or name of the device this adapter feeds.
	Device string `yaml:"device"`
	// Address is the adapter's host:port.
	Address string `yaml:"address"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	// Buffer.Observations and Buffer.MaxReplay stay zero when unset; the
	// store applies its own defaults.
	if c.Buffer.Assets == 0 {
		c.Buffer.Assets = 1024
	}
	if c.Version == "" {
		c.Version = "1.3"
	}
}

func (c *Config) validate() error {
	if c.Devices == "" {
		return fmt.Errorf("devices is required")
	}
	for i, a := range c.Adapters {
		if a.Device == "" {
			return fmt.Errorf("adapters[%d].device is required", i)
		}
		if a.Address == "" {
			return fmt.Errorf("adapters[%d].address is required", i)
		}
	}
	return nil
}
