// portal is the backend-for-frontend of the school records portal. It keeps
// one session per browser, enforces the route guard on every request and
// reaches the records backend only through the gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/config"
	"github.com/chimerakang/portal-go/middleware/ginmw"
	"github.com/chimerakang/portal-go/storage"
	"github.com/chimerakang/portal-go/storage/redisstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var logLevel string

	flagSet := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	open, closeStorage, err := storageFactory(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := newServer(cfg, logger, open, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.sweep(ctx, sweepEvery)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal listening", "addr", cfg.Server.Addr, "backend", cfg.Backend.BaseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// storageFactory builds the per-browser storage selected by cfg.
func storageFactory(cfg config.Config) (ginmw.StorageFactory, func(), error) {
	switch cfg.Session.Storage {
	case config.StorageFile:
		if err := os.MkdirAll(cfg.Session.Dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create session dir: %w", err)
		}
		return func(id string) portal.Storage {
			return storage.NewFile(filepath.Join(cfg.Session.Dir, id+".json"))
		}, func() {}, nil

	case config.StorageRedis:
		backend := redisstore.New(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), redisstore.WithTTL(cfg.Session.TTL))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Ping(ctx); err != nil {
			_ = backend.Close()
			return nil, nil, err
		}
		return func(id string) portal.Storage { return backend.Open(id) },
			func() { _ = backend.Close() }, nil
	}

	// A swept memory store is gone for good; that only happens after the
	// session outlived its cookie or never signed in.
	return func(string) portal.Storage { return storage.NewMemory() }, func() {}, nil
}
