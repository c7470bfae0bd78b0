package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xisvar/the-oan/internal/state"
)

const defaultTTL = 10 * time.Minute

// Redis shares profile projections between nodes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// Dial connects to addr, which may be host:port or a redis:// URL, and pings
// it once.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
	} else {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, applicantID, version string) (state.Profile, bool, error) {
	raw, err := r.client.Get(ctx, Key(applicantID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.Profile{}, false, nil
	}
	if err != nil {
		return state.Profile{}, false, err
	}
	var p state.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return state.Profile{}, false, fmt.Errorf("decode cached profile: %w", err)
	}
	return p, true, nil
}

func (r *Redis) Put(ctx context.Context, applicantID, version string, profile state.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return r.client.Set(ctx, Key(applicantID, version), raw, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
