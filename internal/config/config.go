package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.inbox/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// Identity is the email of the local user. When empty it is read from
	// the remote token.
	Identity string `toml:"identity"`

	Remote     Remote     `toml:"remote"`
	Push       Push       `toml:"push"`
	Pagination Pagination `toml:"pagination"`
	Cache      Cache      `toml:"cache"`
}

// Remote configures the data service client.
type Remote struct {
	BaseURL string        `toml:"base_url"`
	Token   string        `toml:"token"`
	Timeout time.Duration `toml:"timeout"`
}

// Push configures the push channels.
type Push struct {
	URL              string        `toml:"url"`
	Codec            string        `toml:"codec"`
	MaxAttempts      int           `toml:"max_attempts"`
	BaseDelay        time.Duration `toml:"base_delay"`
	MaxDelay         time.Duration `toml:"max_delay"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	PingTimeout      time.Duration `toml:"ping_timeout"`
}

// Pagination sets the page sizes of list queries.
type Pagination struct {
	ConversationsPerPage int `toml:"conversations_per_page"`
	MessagesPerPage      int `toml:"messages_per_page"`
}

// Cache configures the cache store.
type Cache struct {
	GracePeriod time.Duration `toml:"grace_period"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Remote: Remote{
			BaseURL: "http://localhost:9000",
			Timeout: 10 * time.Second,
		},
		Push: Push{
			URL:              "ws://localhost:9000/push",
			Codec:            "json",
			MaxAttempts:      10,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			PingTimeout:      time.Minute,
		},
		Pagination: Pagination{
			ConversationsPerPage: 10,
			MessagesPerPage:      20,
		},
		Cache: Cache{
			GracePeriod: 60 * time.Second,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Validate reports settings no component can work with.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	switch c.Push.Codec {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("push.codec %q: want json or msgpack", c.Push.Codec)
	}
	if c.Push.MaxAttempts < 0 {
		return fmt.Errorf("push.max_attempts must not be negative")
	}
	if c.Push.BaseDelay <= 0 {
		return fmt.Errorf("push.base_delay must be positive")
	}
	if c.Push.MaxDelay < 0 {
		return fmt.Errorf("push.max_delay must not be negative")
	}
	if c.Pagination.ConversationsPerPage < 0 || c.Pagination.MessagesPerPage < 0 {
		return fmt.Errorf("pagination sizes must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
