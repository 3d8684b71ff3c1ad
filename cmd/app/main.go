package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HsiangNianian/AMonItor/bridge/internal/bridge"
	"github.com/HsiangNianian/AMonItor/bridge/internal/config"
	"github.com/HsiangNianian/AMonItor/bridge/internal/script"
	"github.com/HsiangNianian/AMonItor/bridge/internal/store"
	"github.com/HsiangNianian/AMonItor/bridge/internal/transport"
)

func main() {
	configPath := flag.String("config", os.Getenv("BRIDGE_CONFIG"), "path to a JSON-with-comments config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		config.Default().Log.Logger().Error("load config failed", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger()
	if cfg.App.Script == "" {
		logger.Error("no app script configured", "env", "BRIDGE_APP_SCRIPT")
		os.Exit(1)
	}

	var st store.Store
	if cfg.Store.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisPrefix)
		defer rs.Close()
		st = rs
		logger.Info("use redis store", "addr", cfg.Store.RedisAddr)
	} else {
		st = store.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		err := runOnce(ctx, cfg, st, logger)
		if ctx.Err() != nil {
			logger.Info("app stopped")
			return
		}
		logger.Warn("connection lost, reconnecting", "err", err, "delay", cfg.App.ReconnectDelay.Duration)
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.App.ReconnectDelay.Duration):
		}
	}
}

// runOnce connects to the host, loads the script and serves until the
// connection drops.
func runOnce(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) error {
	target, err := hostURL(cfg.App)
	if err != nil {
		return err
	}
	tr, err := transport.Dial(ctx, target, cfg.App.AuthToken, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	b := bridge.New(tr,
		bridge.WithLogger(logger),
		bridge.WithStore(st),
		bridge.WithAppID(cfg.App.AppID),
		bridge.WithRequestTimeout(cfg.App.RequestTimeout.Duration),
		bridge.WithDedupTTL(cfg.Store.DedupTTL.Duration))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- b.Run(runCtx)
		cancel()
	}()

	rt := script.New(runCtx, b, logger)
	execErr := rt.ExecFile(runCtx, cfg.App.Script)
	if execErr != nil {
		cancel()
	} else {
		logger.Info("app connected", "host", target, "app_id", b.AppID(), "script", cfg.App.Script)
	}

	err = <-errc
	rt.Close()
	if execErr != nil {
		return execErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hostURL(app config.AppConfig) (string, error) {
	u, err := url.Parse(app.HostURL)
	if err != nil {
		return "", err
	}
	if app.AppID != "" {
		q := u.Query()
		q.Set("app_id", app.AppID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
