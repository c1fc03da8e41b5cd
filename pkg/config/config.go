// Package config loads cord.yaml and supplies defaults for every field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for both the server and the CLI
// client
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Client  ClientConfig  `yaml:"client"`
}

type ServerConfig struct {
	Listen               string        `yaml:"listen"`
	SlowRequestThreshold time.Duration `yaml:"slowRequestThreshold"`
	MaxMessageSize       int64         `yaml:"maxMessageSize"`
	PingInterval         time.Duration `yaml:"pingInterval"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	RequestLog           bool          `yaml:"requestLog"`
}

type StorageConfig struct {
	Driver    string        `yaml:"driver"`
	DataDir   string        `yaml:"dataDir"`
	SaveDelay time.Duration `yaml:"saveDelay"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ClientConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	IdentityFile   string        `yaml:"identityFile"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			Listen:               "127.0.0.1:8787",
			SlowRequestThreshold: 350 * time.Millisecond,
			MaxMessageSize:       16 << 20,
			PingInterval:         20 * time.Second,
			WriteTimeout:         10 * time.Second,
			RequestLog:           true,
		},
		Storage: StorageConfig{
			Driver:    storage.DriverBolt,
			DataDir:   "./data",
			SaveDelay: storage.DefaultSaveDelay,
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Client: ClientConfig{
			URL:            "ws://127.0.0.1:8787/ws",
			RequestTimeout: 15 * time.Second,
			ReconnectDelay: time.Second,
			ReadTimeout:    45 * time.Second,
			IdentityFile:   filepath.Join(home, ".cord", "identity.yaml"),
		},
	}
}

// Load reads path over the defaults. Fields missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case storage.DriverBolt, storage.DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", storage.DriverBolt, storage.DriverSQLite, c.Storage.Driver)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.maxMessageSize must be positive")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.pingInterval must be positive")
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.requestTimeout must be positive")
	}
	if c.Client.ReadTimeout > 0 && c.Client.ReadTimeout <= c.Server.PingInterval {
		return fmt.Errorf("client.readTimeout must exceed server.pingInterval")
	}
	return nil
}
