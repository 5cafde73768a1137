package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/ledger"
)

// Redis keeps the ledger as members of a single Redis set.
type Redis struct {
	client *redis.Client
	setKey string
}

// NewRedis connects using the configured address and checks the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedisFromClient(client, cfg.SetKey), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, setKey string) *Redis {
	return &Redis{client: client, setKey: setKey}
}

func (r *Redis) Load(ctx context.Context) (ledger.Snapshot, error) {
	members, err := r.client.SMembers(ctx, r.setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger set: %w", err)
	}
	snap := make(ledger.Snapshot, len(members))
	for _, m := range members {
		snap[ledger.Key(m)] = true
	}
	return snap, nil
}

// Save replaces the set atomically with MULTI/EXEC.
func (r *Redis) Save(ctx context.Context, snap ledger.Snapshot) error {
	keys := sentKeys(snap)
	members := make([]any, 0, len(keys))
	for _, k := range keys {
		members = append(members, string(k))
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.setKey)
		if len(members) > 0 {
			pipe.SAdd(ctx, r.setKey, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace ledger set: %w", err)
	}
	return nil
}

// Append adds one member; SADD is idempotent.
func (r *Redis) Append(ctx context.Context, key ledger.Key) error {
	if err := r.client.SAdd(ctx, r.setKey, string(key)).Err(); err != nil {
		return fmt.Errorf("add ledger key: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var (
	_ ledger.Backend  = (*Redis)(nil)
	_ ledger.Appender = (*Redis)(nil)
)
