package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores each session as a hash under prefix+id, so several
// askdb servers can share conversations. A sorted set under prefix+"index"
// keeps ids in creation order for GetAll.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects to addr and checks the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisCache wraps client. A zero ttl keeps sessions forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }
func (c *RedisCache) indexKey() string     { return c.prefix + "index" }

func (c *RedisCache) GenerateID() string {
	return uuid.NewString()
}

func (c *RedisCache) Set(ctx context.Context, id, field string, value []byte) error {
	key := c.key(id)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		pipe.ZAddNX(ctx, c.indexKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session set %s/%s: %w", id, field, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id, field string) ([]byte, bool, error) {
	v, err := c.client.HGet(ctx, c.key(id), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session get %s/%s: %w", id, field, err)
	}
	return v, true, nil
}

func (c *RedisCache) Fields(ctx context.Context, id string) (map[string][]byte, bool, error) {
	all, err := c.client.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("session fields %s: %w", id, err)
	}
	if len(all) == 0 {
		return nil, false, nil
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = []byte(v)
	}
	return out, true, nil
}

func (c *RedisCache) GetAll(ctx context.Context, fields []string) ([]Entry, error) {
	ids, err := c.client.ZRange(ctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, c.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session get all: %w", err)
	}

	var expired []any
	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		stored := cmds[i].Val()
		if len(stored) == 0 {
			expired = append(expired, id)
			continue
		}
		e := Entry{ID: id, Fields: make(map[string][]byte, len(fields))}
		for _, f := range fields {
			if v, ok := stored[f]; ok {
				e.Fields[f] = []byte(v)
			}
		}
		entries = append(entries, e)
	}

	if len(expired) > 0 {
		c.client.ZRem(ctx, c.indexKey(), expired...)
	}
	return entries, nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(id))
		pipe.ZRem(ctx, c.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session delete %s: %w", id, err)
	}
	return nil
}
