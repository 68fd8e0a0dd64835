package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	pendingKeyPrefix = "fedgate:pending:"
	sessionKeyPrefix = "fedgate:session:"
)

// RedisStore keeps session state in Redis. Pending logins are consumed with
// GETDEL so only one callback can ever claim them.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL connects to redisURL and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SavePendingLogin stores the pre-redirect state with a TTL.
func (s *RedisStore) SavePendingLogin(ctx context.Context, sessionID string, pending *PendingLogin, ttl time.Duration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending login: %w", err)
	}
	if err := s.client.Set(ctx, pendingKeyPrefix+sessionID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	return nil
}

// ConsumePendingLogin removes and returns the pending login atomically.
func (s *RedisStore) ConsumePendingLogin(ctx context.Context, sessionID string) (*PendingLogin, error) {
	data, err := s.client.GetDel(ctx, pendingKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoPendingLogin
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending login: %w", err)
	}
	pending := &PendingLogin{}
	if err := json.Unmarshal(data, pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending login: %w", err)
	}
	return pending, nil
}

// MarkAuthenticated records the signed-in user with a TTL.
func (s *RedisStore) MarkAuthenticated(ctx context.Context, sessionID string, userID int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+sessionID, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark session authenticated: %w", err)
	}
	return nil
}

// AuthenticatedUser returns the user marked on the session, if any.
func (s *RedisStore) AuthenticatedUser(ctx context.Context, sessionID string) (int64, bool, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read session: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt session marker: %w", err)
	}
	return userID, true, nil
}

// Clear removes all state for the session.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, pendingKeyPrefix+sessionID, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
