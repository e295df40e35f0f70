// Package session stores refresh tokens in Redis, keyed by token hash.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("refresh session not found or expired")

// TokenData is what each refresh token resolves back to.
type TokenData struct {
	UserID      string    `json:"user_id"`
	OrgID       string    `json:"org_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// Save stores a refresh session until expiresAt.
func (s *RedisStore) Save(ctx context.Context, tokenHash string, data TokenData, expiresAt time.Time) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh session already expired")
	}
	if err := s.client.Set(ctx, s.key(tokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// Lookup resolves a refresh token hash back to its session data.
func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (TokenData, error) {
	payload, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return TokenData{}, ErrNotFound
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return TokenData{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return data, nil
}

// Revoke deletes a refresh session; revoking a missing session is not an
// error.
func (s *RedisStore) Revoke(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
