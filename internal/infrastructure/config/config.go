package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Bridge    BridgeConfig
	Surface   SurfaceConfig
	Downloads DownloadConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"localhost"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// StorageConfig controls where the persisted browser state lives.
type StorageConfig struct {
	Dir      string `envconfig:"STORAGE_DIR" default:"./data"`
	Key      string `envconfig:"STORAGE_KEY" default:"browser-storage"`
	Compress bool   `envconfig:"STORAGE_COMPRESS" default:"true"`
	Memory   bool   `envconfig:"STORAGE_MEMORY" default:"false"`
}

// BridgeConfig tunes the injection verification handshake.
type BridgeConfig struct {
	VerifyDelay time.Duration `envconfig:"BRIDGE_VERIFY_DELAY" default:"500ms"`
	MaxRetries  int           `envconfig:"BRIDGE_MAX_RETRIES" default:"3"`
}

// SurfaceConfig selects and tunes the content surface backend.
type SurfaceConfig struct {
	Kind        string        `envconfig:"SURFACE_KIND" default:"sandbox"`
	UserAgent   string        `envconfig:"SURFACE_USER_AGENT" default:"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36"`
	Timeout     time.Duration `envconfig:"SURFACE_TIMEOUT" default:"30s"`
	PoolSize    int           `envconfig:"SURFACE_POOL_SIZE" default:"4"`
	ChromiumURL string        `envconfig:"SURFACE_CHROMIUM_URL" default:""`
}

// DownloadConfig holds download manager settings.
type DownloadConfig struct {
	Dir     string        `envconfig:"DOWNLOAD_DIR" default:"./downloads"`
	Timeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"10m"`
}

// Surface kinds.
const (
	SurfaceSandbox  = "sandbox"
	SurfaceChromium = "chromium"
	SurfaceRemote   = "remote"
)

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks values envconfig cannot constrain on its own.
func (c *Config) Validate() error {
	switch c.Surface.Kind {
	case SurfaceSandbox, SurfaceChromium, SurfaceRemote:
	default:
		return fmt.Errorf("unknown surface kind %q", c.Surface.Kind)
	}
	if c.Bridge.MaxRetries < 0 {
		return fmt.Errorf("bridge max retries must be >= 0, got %d", c.Bridge.MaxRetries)
	}
	if c.Bridge.VerifyDelay <= 0 {
		return fmt.Errorf("bridge verify delay must be positive, got %s", c.Bridge.VerifyDelay)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "localhost",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Storage: StorageConfig{
			Dir:      "./data",
			Key:      "browser-storage",
			Compress: true,
		},
		Bridge: BridgeConfig{
			VerifyDelay: 500 * time.Millisecond,
			MaxRetries:  3,
		},
		Surface: SurfaceConfig{
			Kind:      SurfaceSandbox,
			UserAgent: "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36",
			Timeout:   30 * time.Second,
			PoolSize:  4,
		},
		Downloads: DownloadConfig{
			Dir:     "./downloads",
			Timeout: 10 * time.Minute,
		},
	}
}
