// Package config loads the web shell configuration from a yaml file with
// environment overlay. Sources in priority order: explicit path, CONFIG_PATH,
// environment variables only.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root shell configuration.
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	Backend  BackendConfig `yaml:"backend"`
	Audit    AuditConfig   `yaml:"audit"`
	Shutdown time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// HTTPConfig holds the listen address of the shell itself.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"3000"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// BackendConfig points at the session-intelligence auth backend.
type BackendConfig struct {
	URL          string        `yaml:"url" env:"BACKEND_URL" env-default:"http://localhost:4000/api"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"5s"`
}

// AuditConfig configures the optional Kafka audit sink. Leaving Brokers empty
// keeps audit events in memory.
type AuditConfig struct {
	Brokers []string `yaml:"brokers" env:"AUDIT_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"AUDIT_TOPIC" env-default:"session-audit"`
	Buffer  int      `yaml:"buffer" env:"AUDIT_BUFFER" env-default:"256"`
}

// Enabled reports whether a Kafka sink should be wired.
func (a AuditConfig) Enabled() bool {
	return len(a.Brokers) > 0
}

// MustLoad is Load with a panic on failure, for main.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration. A yaml file is optional; environment
// variables always overlay whatever the file provided.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("overlay environment: %w", err)
	}
	return &cfg, nil
}
