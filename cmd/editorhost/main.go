package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HsiangNianian/AMonItor/bridge/internal/config"
	"github.com/HsiangNianian/AMonItor/bridge/internal/host"
	"github.com/HsiangNianian/AMonItor/bridge/internal/store"
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

	var st store.Store
	if cfg.Store.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.RedisPrefix)
		defer rs.Close()
		if err := rs.Ping(context.Background()); err != nil {
			logger.Error("redis unreachable", "addr", cfg.Store.RedisAddr, "err", err)
			os.Exit(1)
		}
		st = rs
		logger.Info("use redis store", "addr", cfg.Store.RedisAddr)
	} else {
		st = store.NewMemoryStore()
		logger.Info("use memory store")
	}

	srv := host.NewServer(st, cfg.Host.AuthToken,
		host.WithLogger(logger),
		host.WithServerEventTimeout(cfg.Host.EventTimeout.Duration))
	httpSrv := &http.Server{
		Addr:              cfg.Host.ListenAddr,
		Handler:           srv.Mux(cfg.Host.AppPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("editor host listening", "addr", cfg.Host.ListenAddr, "app_path", cfg.Host.AppPath)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("editor host failed", "err", err)
		os.Exit(1)
	}
}
