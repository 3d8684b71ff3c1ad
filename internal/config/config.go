package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tailscale/hujson"
)

type Config struct {
	Host  HostConfig  `json:"host"`
	App   AppConfig   `json:"app"`
	Store StoreConfig `json:"store"`
	Log   LogConfig   `json:"log"`
}

type HostConfig struct {
	ListenAddr   string   `json:"listen_addr" env:"BRIDGE_HOST_LISTEN_ADDR"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	AppPath      string   `json:"app_path" env:"BRIDGE_HOST_APP_PATH"`
	AuthToken    string   `json:"auth_token" env:"HOST_AUTH_TOKEN"`
	EventTimeout Duration `json:"event_timeout" env:"BRIDGE_HOST_EVENT_TIMEOUT"`
}

type AppConfig struct {
	AppID          string   `json:"app_id" env:"BRIDGE_APP_ID"`
	HostURL        string   `json:"host_url" env:"BRIDGE_APP_HOST_URL"`
	AuthToken      string   `json:"auth_token" env:"BRIDGE_APP_AUTH_TOKEN"`
	RequestTimeout Duration `json:"request_timeout" env:"BRIDGE_APP_REQUEST_TIMEOUT"`
	Script         string   `json:"script" env:"BRIDGE_APP_SCRIPT"`
	ReconnectDelay Duration `json:"reconnect_delay" env:"BRIDGE_APP_RECONNECT_DELAY"`
}

type StoreConfig struct {
	RedisAddr   string   `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string   `json:"redis_prefix" env:"BRIDGE_REDIS_PREFIX"`
	DedupTTL    Duration `json:"dedup_ttl" env:"BRIDGE_DEDUP_TTL"`
}

type LogConfig struct {
	Level  string `json:"level" env:"BRIDGE_LOG_LEVEL"`
	Format string `json:"format" env:"BRIDGE_LOG_FORMAT"`
}

// Duration reads "1.5s" style strings from both JSON and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Host: HostConfig{
			ListenAddr:   ":8080",
			AppPath:      "/ws/app",
			EventTimeout: Duration{10 * time.Second},
		},
		App: AppConfig{
			HostURL:        "ws://localhost:8080/ws/app",
			RequestTimeout: Duration{30 * time.Second},
			ReconnectDelay: Duration{5 * time.Second},
		},
		Store: StoreConfig{
			RedisPrefix: "bridge:",
			DedupTTL:    Duration{10 * time.Minute},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the JSON-with-comments file at path over Default, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config failed: %w", err)
		}
		if err := Parse(content, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env failed: %w", err)
	}

	cfg.fixup()
	return cfg, nil
}

// Parse decodes a JSON-with-comments document into cfg.
func Parse(content []byte, cfg *Config) error {
	std, err := hujson.Standardize(content)
	if err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	if err := json.Unmarshal(std, cfg); err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	return nil
}

func (c *Config) fixup() {
	if c.Host.AppPath == "" {
		c.Host.AppPath = "/ws/app"
	}
	if c.Host.ListenAddr == "" {
		if c.Host.Host != "" && c.Host.Port > 0 {
			c.Host.ListenAddr = fmt.Sprintf("%s:%d", c.Host.Host, c.Host.Port)
		} else {
			c.Host.ListenAddr = ":8080"
		}
	}
	if c.App.ReconnectDelay.Duration <= 0 {
		c.App.ReconnectDelay.Duration = 5 * time.Second
	}
	if c.Store.DedupTTL.Duration <= 0 {
		c.Store.DedupTTL.Duration = 10 * time.Minute
	}
}

// Logger builds the process logger described by the log section.
func (c LogConfig) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
