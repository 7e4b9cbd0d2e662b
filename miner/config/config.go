// Package config provides configuration loading for the miner
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensyria/cryptonight-miner/common/memory"
)

// Config holds miner configuration
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Mining    MiningConfig    `yaml:"mining"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// InstanceConfig holds miner identification
type InstanceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MiningConfig holds the worker pool configuration
type MiningConfig struct {
	Threads      []ThreadConfig `yaml:"threads"`
	SlowMemory   string         `yaml:"slow_memory"`
	SkipSelfTest bool           `yaml:"skip_self_test"`
	PoolID       int            `yaml:"pool_id"`
}

// ThreadConfig holds one worker thread's configuration
type ThreadConfig struct {
	Multiway    int `yaml:"multiway"`
	CPUAffinity int `yaml:"cpu_aff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DashboardConfig holds the live stats dashboard configuration
type DashboardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Listen         string        `yaml:"listen"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// LoadConfig loads miner configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns default miner configuration
func DefaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			Name: "Cryptonight Miner",
		},
		Mining: MiningConfig{
			Threads:    nil, // One single-way worker per CPU
			SlowMemory: "print_warning",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Dashboard: DashboardConfig{
			Enabled:        false,
			Listen:         ":8080",
			UpdateInterval: 2 * time.Second,
		},
	}
}

// MemoryMode resolves the slow_memory setting
func (c *Config) MemoryMode() (memory.Mode, error) {
	return memory.ParseMode(c.Mining.SlowMemory)
}

// Validate validates miner configuration
func (c *Config) Validate() error {
	if _, err := memory.ParseMode(c.Mining.SlowMemory); err != nil {
		return fmt.Errorf("mining.slow_memory: %w", err)
	}
	for i, t := range c.Mining.Threads {
		switch t.Multiway {
		case 1, 2, 4, 5, 6:
		default:
			return fmt.Errorf("mining.threads[%d].multiway must be 1, 2, 4, 5 or 6", i)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		return fmt.Errorf("dashboard.listen is required when the dashboard is enabled")
	}
	return nil
}
