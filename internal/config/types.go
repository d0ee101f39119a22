package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Config holds every server-level option for the gateway.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle layer.
type ServerConfig struct {
	Listen    ListenConfig    `koanf:"listen"`
	Logging   LoggingConfig   `koanf:"logging"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Cache     CacheConfig     `koanf:"cache"`
	PageCache PageCacheConfig `koanf:"pagecache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UpstreamConfig names the origin the gateway dispatches uncached requests to.
type UpstreamConfig struct {
	URL string `koanf:"url"`
}

// CacheConfig selects and configures the key-value backend.
type CacheConfig struct {
	Backend string            `koanf:"backend"`
	Redis   RedisCacheConfig  `koanf:"redis"`
	SQLite  SQLiteCacheConfig `koanf:"sqlite"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type SQLiteCacheConfig struct {
	Path string `koanf:"path"`
}

// PageCacheConfig carries the page-cache decision knobs.
type PageCacheConfig struct {
	// Expires is the default page lifetime in seconds.
	Expires int `koanf:"expires"`
	// SetHTTPHeaders emits Cache-Control/Expires/Last-Modified on hits.
	SetHTTPHeaders bool `koanf:"setHttpHeaders"`
	// AutoCache lists full-match path patterns cached without handler opt-in.
	AutoCache []string `koanf:"autoCache"`
	// Debug enables per-request decision tracing.
	Debug bool `koanf:"debug"`
	// BusyLockSeconds serializes regeneration of expired entries; 0 disables.
	BusyLockSeconds int `koanf:"busyLockSeconds"`
	// NoCacheMethods lists request methods that never touch the cache.
	NoCacheMethods []string `koanf:"noCacheMethods"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic. Pattern compilation failures surface here, at startup,
// rather than silently skipping patterns at request time.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if raw := strings.TrimSpace(c.Server.Upstream.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("config: upstream.url invalid: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("config: upstream.url scheme unsupported: %s", parsed.Scheme)
		}
	}
	if c.Server.PageCache.Expires <= 0 {
		return fmt.Errorf("config: pagecache.expires must be positive: %d", c.Server.PageCache.Expires)
	}
	if c.Server.PageCache.BusyLockSeconds < 0 {
		return fmt.Errorf("config: pagecache.busyLockSeconds invalid: %d", c.Server.PageCache.BusyLockSeconds)
	}
	for i, pattern := range c.Server.PageCache.AutoCache {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("config: pagecache.autoCache[%d] invalid: %w", i, err)
		}
	}
	for i, method := range c.Server.PageCache.NoCacheMethods {
		if strings.TrimSpace(method) == "" {
			return fmt.Errorf("config: pagecache.noCacheMethods[%d] empty", i)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	case "sqlite":
		if strings.TrimSpace(c.Server.Cache.SQLite.Path) == "" {
			return errors.New("config: cache.sqlite.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values the gateway boots with.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend: "memory",
			},
			PageCache: PageCacheConfig{
				Expires:        300,
				NoCacheMethods: []string{"POST"},
			},
		},
	}
}
