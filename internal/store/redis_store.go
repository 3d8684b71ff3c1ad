package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr. Keys are namespaced with prefix so several
// hosts can share one server.
func NewRedisStore(addr, prefix string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(kind, id string) string {
	return r.prefix + kind + ":" + id
}

func (r *RedisStore) Processed(ctx context.Context, msgID string) (string, bool, error) {
	result, err := r.client.Get(ctx, r.key("processed", msgID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

func (r *RedisStore) MarkProcessed(ctx context.Context, msgID, reply string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key("processed", msgID), reply, ttl).Err()
}

func (r *RedisStore) SetAckStatus(ctx context.Context, msgID, status string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key("ack", msgID), status, ttl).Err()
}

func (r *RedisStore) AckStatus(ctx context.Context, msgID string) (string, error) {
	result, err := r.client.Get(ctx, r.key("ack", msgID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

func (r *RedisStore) SetGroupOwner(ctx context.Context, eventType, appID string) error {
	return r.client.Set(ctx, r.key("group", eventType), appID, 0).Err()
}

func (r *RedisStore) GetGroupOwner(ctx context.Context, eventType string) (string, error) {
	result, err := r.client.Get(ctx, r.key("group", eventType)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

func (r *RedisStore) DeleteGroupOwner(ctx context.Context, eventType string) error {
	return r.client.Del(ctx, r.key("group", eventType)).Err()
}
