package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type redisKV struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a redis-backed store. Keys live under cfg.Prefix.
func NewRedis(cfg *RedisConfig) (KV, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &redisKV{client: client, prefix: cfg.Prefix}, nil
}

func (s *redisKV) key(k string) string {
	return s.prefix + k
}

func (s *redisKV) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	res, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redisKV.GetMany MGet")
	}
	for i, v := range res {
		if str, ok := v.(string); ok {
			values[keys[i]] = str
		}
	}
	return values, nil
}

func (s *redisKV) SetMany(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		return nil
	})
	return errors.Wrap(err, "redisKV.SetMany TxPipelined")
}

func (s *redisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	return errors.Wrap(s.client.Del(ctx, prefixed...).Err(), "redisKV.Delete Del")
}

// CompareAndSet uses WATCH so a concurrent write to the guard key aborts the transaction.
func (s *redisKV) CompareAndSet(ctx context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.key(guardKey)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if current != guardValue {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range values {
				pipe.Set(ctx, s.key(k), v, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, s.key(guardKey))

	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "redisKV.CompareAndSet Watch")
	}
	return swapped, nil
}

func (s *redisKV) Close(context.Context) error {
	return s.client.Close()
}
