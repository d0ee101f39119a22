package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisBackend struct {
	client valkey.Client
}

// NewRedis connects to a redis-compatible server and verifies it with a ping
// before handing out the backend. Native ttls map to PX, and AddIfAbsent maps
// to SET NX so busy-lock acquisition stays a single atomic command.
func NewRedis(cfg RedisConfig) (Backend, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisBackend{client: client}, nil
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := b.client.Do(ctx, b.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	return payload, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = b.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	} else {
		cmd = b.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	}
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (b *redisBackend) Remove(ctx context.Context, key string) error {
	if err := b.client.Do(ctx, b.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (b *redisBackend) AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("cache: redis add-if-absent requires a positive ttl")
	}
	cmd := b.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Nx().Px(ttl).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		// SET NX answers with a nil reply when another caller holds the key.
		if errors.Is(err, valkey.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache: redis set nx: %w", err)
	}
	return true, nil
}

func (b *redisBackend) Close(context.Context) error {
	b.client.Close()
	return nil
}
