package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"mintgate/notify"
)

const (
	defaultAllowlistKey = "allowlist:addresses"
	tokenKeyPrefix      = "notification:token:"
)

// RedisStore backs the allowlist set and the notification token KV with a
// single Redis connection. SADD supplies the atomic add-if-absent primitive
// the set needs; tokens are plain JSON values keyed by fid.
type RedisStore struct {
	client       *redis.Client
	allowlistKey string
}

// NewRedis dials url (a redis:// URL) and verifies the connection.
func NewRedis(ctx context.Context, url, allowlistKey string) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}
	if allowlistKey = strings.TrimSpace(allowlistKey); allowlistKey == "" {
		allowlistKey = defaultAllowlistKey
	}
	return &RedisStore{client: client, allowlistKey: allowlistKey}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// Health reports whether the connection is usable.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Contains implements allowlist.SetStore.
func (s *RedisStore) Contains(ctx context.Context, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.allowlistKey, member).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", s.allowlistKey, err)
	}
	return ok, nil
}

// Add implements allowlist.SetStore. The SADD reply distinguishes a genuine
// insert (1) from an already-present member (0) atomically.
func (s *RedisStore) Add(ctx context.Context, member string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.allowlistKey, member).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", s.allowlistKey, err)
	}
	return added > 0, nil
}

// Members implements allowlist.SetStore.
func (s *RedisStore) Members(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.allowlistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", s.allowlistKey, err)
	}
	return members, nil
}

func tokenKey(fid uint64) string {
	return fmt.Sprintf("%s%d", tokenKeyPrefix, fid)
}

// SaveToken implements notify.TokenStore. Tokens carry no TTL; their lifecycle
// is driven by miniapp webhook events.
func (s *RedisStore) SaveToken(ctx context.Context, token notify.NotificationToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(token.FID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", tokenKey(token.FID), err)
	}
	return nil
}

// Token implements notify.TokenStore.
func (s *RedisStore) Token(ctx context.Context, fid uint64) (*notify.NotificationToken, error) {
	raw, err := s.client.Get(ctx, tokenKey(fid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", tokenKey(fid), err)
	}
	var token notify.NotificationToken
	if err := json.Unmarshal(raw, &token); err != nil {
		// A corrupt record is treated as absent rather than wedging every
		// send for this recipient.
		return nil, nil
	}
	return &token, nil
}

// DeleteToken implements notify.TokenStore.
func (s *RedisStore) DeleteToken(ctx context.Context, fid uint64) error {
	if err := s.client.Del(ctx, tokenKey(fid)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", tokenKey(fid), err)
	}
	return nil
}
