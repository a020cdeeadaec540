package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisStore guarda cada sesión como un hash <prefix>sess:<sha256(sid)>.
type RedisStore struct {
	c      *rdb.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisConfig configura el store.
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore abre un cliente propio (Close lo cierra).
func NewRedisStore(cfg RedisConfig) *RedisStore {
	c := rdb.NewClient(&rdb.Options{Addr: cfg.Addr, DB: cfg.DB, Password: cfg.Password})
	s := NewRedisStoreWithClient(c, cfg.Prefix, cfg.TTL)
	s.owned = true
	return s
}

// NewRedisStoreWithClient reutiliza un cliente existente (ej: compartido con el rate limiter).
func NewRedisStoreWithClient(c *rdb.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{c: c, prefix: prefix, ttl: ttl}
}

// Client expone el cliente subyacente.
func (s *RedisStore) Client() *rdb.Client { return s.c }

func (s *RedisStore) For(sid string) Repository {
	return &redisRepo{s: s, key: s.prefix + "sess:" + hashSID(sid)}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }

func (s *RedisStore) Close() error {
	if s.owned {
		return s.c.Close()
	}
	return nil
}

type redisRepo struct {
	s   *RedisStore
	key string
}

func (r *redisRepo) Get(ctx context.Context, key Key) (string, error) {
	v, err := r.s.c.HGet(ctx, r.key, string(key)).Result()
	if errors.Is(err, rdb.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session redis get: %w", err)
	}
	return v, nil
}

func (r *redisRepo) Set(ctx context.Context, key Key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	pipe := r.s.c.TxPipeline()
	pipe.HSet(ctx, r.key, string(key), value)
	if r.s.ttl > 0 {
		pipe.Expire(ctx, r.key, r.s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session redis set: %w", err)
	}
	return nil
}

func (r *redisRepo) Delete(ctx context.Context, key Key) error {
	if err := r.s.c.HDel(ctx, r.key, string(key)).Err(); err != nil {
		return fmt.Errorf("session redis delete: %w", err)
	}
	return nil
}

func (r *redisRepo) Clear(ctx context.Context) error {
	if err := r.s.c.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("session redis clear: %w", err)
	}
	return nil
}
