package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	graceKeyPrefix      = "accessgate:grace:"
	lastTenantKeyPrefix = "accessgate:last_tenant:"
)

// RedisSessionStore keeps the grace marker and the last-active-tenant
// preference in redis. The marker carries its own TTL so an abandoned
// provisioning handoff expires without any cleanup pass.
type RedisSessionStore struct {
	client   *redis.Client
	graceTTL time.Duration
}

// NewRedisSessionStore creates a session store over an existing client
func NewRedisSessionStore(client *redis.Client, graceTTL time.Duration) *RedisSessionStore {
	if graceTTL <= 0 {
		graceTTL = 15 * time.Second
	}
	return &RedisSessionStore{client: client, graceTTL: graceTTL}
}

// NewRedisClient dials redis from a URL with sane gate timeouts
func NewRedisClient(url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// GraceMarker returns when the marker was set, if still live
func (s *RedisSessionStore) GraceMarker(ctx context.Context, principalID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, graceKeyPrefix+principalID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read grace marker: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed grace marker: %w", err)
	}
	return at, true, nil
}

// SetGraceMarker records a provisioning handoff with the marker TTL
func (s *RedisSessionStore) SetGraceMarker(ctx context.Context, principalID string, at time.Time) error {
	err := s.client.Set(ctx, graceKeyPrefix+principalID, at.Format(time.RFC3339Nano), s.graceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set grace marker: %w", err)
	}
	return nil
}

// ClearGraceMarker consumes the marker
func (s *RedisSessionStore) ClearGraceMarker(ctx context.Context, principalID string) error {
	if err := s.client.Del(ctx, graceKeyPrefix+principalID).Err(); err != nil {
		return fmt.Errorf("failed to clear grace marker: %w", err)
	}
	return nil
}

// LastTenant returns the persisted tenant preference, "" when none
func (s *RedisSessionStore) LastTenant(ctx context.Context, principalID string) (string, error) {
	val, err := s.client.Get(ctx, lastTenantKeyPrefix+principalID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tenant preference: %w", err)
	}
	return val, nil
}

// SetLastTenant persists the tenant preference; no TTL, cleared on sign-out
func (s *RedisSessionStore) SetLastTenant(ctx context.Context, principalID, tenantID string) error {
	if err := s.client.Set(ctx, lastTenantKeyPrefix+principalID, tenantID, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist tenant preference: %w", err)
	}
	return nil
}

// ClearLastTenant removes the preference
func (s *RedisSessionStore) ClearLastTenant(ctx context.Context, principalID string) error {
	if err := s.client.Del(ctx, lastTenantKeyPrefix+principalID).Err(); err != nil {
		return fmt.Errorf("failed to clear tenant preference: %w", err)
	}
	return nil
}
