package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "teemux:source:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sourceKey(name string) string { return keyPrefix + name }
func ownerKey(name string) string  { return keyPrefix + name + ":owner" }

func (s *RedisStore) Upsert(ctx context.Context, src Source, ownerInstanceID string, ttlSeconds int) error {
	if s == nil || s.client == nil {
		return nil
	}
	name := strings.TrimSpace(src.Name)
	if name == "" {
		return errors.New("source name is required")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, sourceKey(name), data, ttl)
	pipe.Set(ctx, ownerKey(name), strings.TrimSpace(ownerInstanceID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if s == nil || s.client == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return s.client.Del(ctx, sourceKey(name), ownerKey(name)).Err()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
