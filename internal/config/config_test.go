package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `{
	// editor side
	"host": {
		"host": "127.0.0.1",
		"port": 9090,
		"auth_token": "from-file",
		"event_timeout": "3s",
	},
	"app": {
		"app_id": "notes",
		"request_timeout": "1m", /* trailing commas are fine */
	},
	"store": {"redis_addr": "localhost:6379"},
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.hujson")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.ListenAddr != ":8080" || cfg.Host.AppPath != "/ws/app" {
		t.Errorf("host = %+v", cfg.Host)
	}
	if cfg.App.RequestTimeout.Duration != 30*time.Second {
		t.Errorf("request timeout = %s", cfg.App.RequestTimeout)
	}
}

func TestLoadFileWithComments(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.ListenAddr != ":8080" {
		t.Errorf("explicit default listen addr overridden: %q", cfg.Host.ListenAddr)
	}
	if cfg.Host.AuthToken != "from-file" || cfg.Host.EventTimeout.Duration != 3*time.Second {
		t.Errorf("host = %+v", cfg.Host)
	}
	if cfg.App.AppID != "notes" || cfg.App.RequestTimeout.Duration != time.Minute {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.App.HostURL == "" || cfg.Store.RedisPrefix != "bridge:" {
		t.Error("defaults lost for keys missing from the file")
	}
}

func TestListenAddrFromHostPort(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"host": {"listen_addr": "", "host": "127.0.0.1", "port": 9090}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("listen addr = %q", cfg.Host.ListenAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HOST_AUTH_TOKEN", "from-env")
	t.Setenv("BRIDGE_APP_REQUEST_TIMEOUT", "250ms")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host.AuthToken != "from-env" {
		t.Errorf("auth token = %q", cfg.Host.AuthToken)
	}
	if cfg.App.RequestTimeout.Duration != 250*time.Millisecond {
		t.Errorf("request timeout = %s", cfg.App.RequestTimeout)
	}
	if cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Store.RedisAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeConfig(t, `{"host": `)); err == nil {
		t.Error("truncated file accepted")
	}
	if _, err := Load(writeConfig(t, `{"app": {"request_timeout": "soon"}}`)); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestLoggerLevel(t *testing.T) {
	l := LogConfig{Level: "debug"}.Logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	l = LogConfig{Level: "nonsense", Format: "json"}.Logger()
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
}
