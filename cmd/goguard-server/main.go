package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/game"
)

func main() {
	configPath := flag.String("config", "", "path to a goguard.yaml config file")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *serverConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Token.Secret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		cfg.Token.Secret = hex.EncodeToString(secret)
		logger.Warn("token.secret not set, using an ephemeral secret; tokens will not survive a restart")
	}

	gwCfg, err := cfg.gatewayConfig()
	if err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	builder := goGuard.New().WithConfig(gwCfg).WithLogger(logger)
	if rdb != nil {
		builder = builder.WithRedis(rdb)
	}
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(auditSink(cfg.Audit.Sink, logger))
	}
	gw, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gin.SetMode(cfg.Running.GinMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           newRouter(&server{gw: gw, store: store, logger: logger}, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "validation_mode", gwCfg.ValidationMode.String())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openRedis connects to redis.addr, or starts an embedded miniredis when no
// address is set and redis.embedded is true.
func openRedis(cfg *serverConfig, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Redis.Addr
	if addr == "" {
		if !cfg.Redis.Embedded {
			return nil, func() {}, nil
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Info("using embedded miniredis", "addr", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("using redis", "addr", addr)
	return client, func() { _ = client.Close() }, nil
}

func openStore(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (game.Store, error) {
	if cfg.Postgres.DSN == "" {
		logger.Info("postgres.dsn not set, using in-memory game store")
		return game.NewMemoryStore(), nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	store, err := game.OpenPostgres(pingCtx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// auditSink picks where audit events go: "log" (the server logger), "json"
// (JSON lines on stdout) or "both".
func auditSink(kind string, logger *slog.Logger) goGuard.AuditSink {
	switch strings.ToLower(kind) {
	case "json":
		return goGuard.NewJSONWriterSink(os.Stdout)
	case "both":
		return goGuard.MultiSink{goGuard.NewSlogSink(logger), goGuard.NewJSONWriterSink(os.Stdout)}
	default:
		return goGuard.NewSlogSink(logger)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
