package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "crowdcoin:tx:"
	redisIndexKey  = "crowdcoin:tx:recent"
	redisIndexMax  = 1000
)

// RedisStore keeps records as JSON values with a TTL and a capped list of
// recent keys.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	blob, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, err
	}
	if rec.expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, record Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !record.ExpiresAt.IsZero() {
		ttl = time.Until(record.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, blob, ttl)
	pipe.LRem(ctx, redisIndexKey, 0, key)
	pipe.LPush(ctx, redisIndexKey, key)
	pipe.LTrim(ctx, redisIndexKey, 0, redisIndexMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > redisIndexMax {
		limit = redisIndexMax
	}
	keys, err := r.client.LRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}
