package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cachefront/cachefront/internal/cache"
	"github.com/cachefront/cachefront/internal/config"
	"github.com/cachefront/cachefront/internal/logging"
	"github.com/cachefront/cachefront/internal/metrics"
	"github.com/cachefront/cachefront/internal/pagecache"
	"github.com/cachefront/cachefront/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CACHEFRONT", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	backend := buildBackend(logger.With(slog.String("component", "cache_factory")), cfg.Server.Cache)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if backend != nil {
			if err := backend.Close(closeCtx); err != nil {
				logger.Error("cache shutdown failed", slog.Any("error", err))
			}
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	engine, err := pagecache.New(pagecache.Options{
		Backend:         backend,
		Expires:         cfg.Server.PageCache.Expires,
		SetHTTPHeaders:  cfg.Server.PageCache.SetHTTPHeaders,
		AutoCache:       cfg.Server.PageCache.AutoCache,
		BusyLockSeconds: cfg.Server.PageCache.BusyLockSeconds,
		NoCacheMethods:  cfg.Server.PageCache.NoCacheMethods,
		Debug:           cfg.Server.PageCache.Debug,
		Logger:          logger,
		Metrics:         metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct page cache", slog.Any("error", err))
		os.Exit(1)
	}

	upstream, err := buildUpstream(logger, cfg.Server.Upstream)
	if err != nil {
		logger.Error("unable to construct upstream proxy", slog.Any("error", err))
		os.Exit(1)
	}

	if *configFile != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if err := engine.SetAutoCache(next.Server.PageCache.AutoCache); err != nil {
				logger.Error("auto-cache reload rejected", slog.Any("error", err))
				return
			}
			logger.Info("auto-cache patterns reloaded", slog.Int("patterns", len(next.Server.PageCache.AutoCache)))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewHandler(engine, metricsRecorder.Handler(), engine.Middleware(upstream))

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildBackend selects the configured key-value backend, falling back to the
// in-process store when an external backend cannot be reached. Caching is an
// optimization; a broken backend must not keep the gateway from serving.
func buildBackend(logger *slog.Logger, cfg config.CacheConfig) cache.Backend {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache backend")
		return cache.NewMemory()
	case "redis":
		redisBackend, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis backend initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory backend")
			return cache.NewMemory()
		}
		logger.Info("using redis cache backend", slog.String("address", cfg.Redis.Address))
		return redisBackend
	case "sqlite":
		sqliteBackend, err := cache.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			logger.Error("sqlite backend initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory backend")
			return cache.NewMemory()
		}
		logger.Info("using sqlite cache backend", slog.String("path", cfg.SQLite.Path))
		return sqliteBackend
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}

// buildUpstream wires the reverse proxy the page cache fronts. Without a
// configured upstream the gateway still boots, answering 502 for application
// paths, so operational endpoints stay reachable during staged rollouts.
func buildUpstream(logger *slog.Logger, cfg config.UpstreamConfig) (http.Handler, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		logger.Warn("no upstream configured, application paths answer 502")
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
		}), nil
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy, nil
}
