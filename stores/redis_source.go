package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/pathacl"
)

const defaultRedisKey = "pathacl:rules"

// RedisSource stores the rule document under a single Redis key.
type RedisSource struct {
	client *redis.Client
	key    string
}

var _ pathacl.RuleSource = (*RedisSource)(nil)

type RedisSourceOption func(*RedisSource)

// WithRedisKey overrides the key the document lives under.
func WithRedisKey(key string) RedisSourceOption {
	return func(r *RedisSource) {
		if key != "" {
			r.key = key
		}
	}
}

func NewRedisSource(client *redis.Client, opts ...RedisSourceOption) *RedisSource {
	src := &RedisSource{client: client, key: defaultRedisKey}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

func (r *RedisSource) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("no rule document at key %s", r.key)
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisSource) Save(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}
