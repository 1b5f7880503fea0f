package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models boardline.yml.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Sync struct {
		// Origin is the http(s) origin the hub derives its ws(s) endpoint
		// from; the websocket scheme follows the origin's own scheme.
		Origin           string `yaml:"origin"`
		Path             string `yaml:"path"`
		ReconnectSeconds int    `yaml:"reconnect_seconds"`
	} `yaml:"sync"`
	Auth struct {
		// Secret enables HS256 bearer token verification when set. Tokens are
		// only used to resolve the acting principal; issuing them is out of
		// scope.
		Secret string `yaml:"secret"`
	} `yaml:"auth"`
}

// Default returns the default configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8181"
	cfg.Sync.Origin = "http://127.0.0.1:8181"
	cfg.Sync.Path = "/v0/sync"
	cfg.Sync.ReconnectSeconds = 2
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Sync.Origin == "" {
		return fmt.Errorf("config.sync.origin is required")
	}
	u, err := url.Parse(c.Sync.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config.sync.origin must be an http(s) origin")
	}
	if c.Sync.Path == "" {
		return fmt.Errorf("config.sync.path is required")
	}
	if c.Sync.ReconnectSeconds <= 0 {
		return fmt.Errorf("config.sync.reconnect_seconds must be positive")
	}
	return nil
}

// ReconnectDelay converts the configured reconnect interval.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Sync.ReconnectSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "boardline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
