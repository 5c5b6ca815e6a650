package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "qoemeter/pkg/logx"
)

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func redisOptions(c RedisConfig) (*redis.Options, error) {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return nil, errors.New("storage.redis.host is required for redis driver")
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("storage.redis.port out of range: %d", port)
	}
	if c.DB < 0 {
		return nil, fmt.Errorf("storage.redis.db must be >= 0, got %d", c.DB)
	}
	dial := c.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	return &redis.Options{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: dial,
	}, nil
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	opts, err := redisOptions(cfg.Redis)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Debug("redis store connected", logx.String("addr", opts.Addr), logx.Int("db", opts.DB))
	return &redisStore{client: client, prefix: cfg.Redis.Prefix, log: log}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if errors.Is(err, redis.ErrClosed) {
		return nil, ErrClosed
	}
	return b, err
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
