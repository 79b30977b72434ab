package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreNone     = "none"
	StoreFile     = "file"
	StoreBolt     = "bolt"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Client   ClientConfig `yaml:"client"`
	Relay    RelayConfig  `yaml:"relay"`
	Store    StoreConfig  `yaml:"store"`
	Canvas   CanvasConfig `yaml:"canvas"`
}

type ClientConfig struct {
	RelayURL         string        `yaml:"relay_url"`
	Token            string        `yaml:"token"`
	RawUpdates       bool          `yaml:"raw_updates"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MinBackoff       time.Duration `yaml:"min_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	PersistLocal     bool          `yaml:"persist_local"`
}

type RelayConfig struct {
	Listen       string        `yaml:"listen"`
	JWTSecret    string        `yaml:"jwt_secret"`
	BrokerRedis  string        `yaml:"broker_redis"`
	MDNS         bool          `yaml:"mdns"`
	PersistEvery time.Duration `yaml:"persist_every"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

type CanvasConfig struct {
	CursorIdle      time.Duration `yaml:"cursor_idle"`
	HistoryDebounce time.Duration `yaml:"history_debounce"`
	HistoryDepth    int           `yaml:"history_depth"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			RelayURL:         "ws://127.0.0.1:4455/ws",
			HandshakeTimeout: 10 * time.Second,
			MinBackoff:       500 * time.Millisecond,
			MaxBackoff:       30 * time.Second,
		},
		Relay: RelayConfig{
			Listen:       ":4455",
			PersistEvery: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreNone,
			Path:    ".flowsync",
			Prefix:  "flowsync",
		},
		Canvas: CanvasConfig{
			CursorIdle:      10 * time.Second,
			HistoryDebounce: 500 * time.Millisecond,
			HistoryDepth:    100,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path or a missing file yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "", StoreNone, StoreFile, StoreBolt, StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for redis")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Client.MinBackoff <= 0 || c.Client.MaxBackoff < c.Client.MinBackoff {
		return fmt.Errorf("client backoff must satisfy 0 < min_backoff <= max_backoff")
	}
	if c.Canvas.CursorIdle <= 0 {
		return fmt.Errorf("canvas.cursor_idle must be positive")
	}
	return nil
}
