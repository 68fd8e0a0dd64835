package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNoPendingLogin is returned when no pending login exists for a session,
// including when it was already consumed.
var ErrNoPendingLogin = errors.New("no pending login for session")

// PendingLogin is the state saved before redirecting to the identity
// provider and consumed exactly once at the callback.
type PendingLogin struct {
	ContextID string    `json:"context_id"`
	ReplyURL  string    `json:"reply_url"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Store persists pending logins and authenticated-principal markers.
type Store interface {
	// SavePendingLogin records the pre-redirect state for sessionID.
	SavePendingLogin(ctx context.Context, sessionID string, pending *PendingLogin, ttl time.Duration) error
	// ConsumePendingLogin atomically removes and returns the pending login.
	// A second call for the same session returns ErrNoPendingLogin.
	ConsumePendingLogin(ctx context.Context, sessionID string) (*PendingLogin, error)
	// MarkAuthenticated records the signed-in user for sessionID.
	MarkAuthenticated(ctx context.Context, sessionID string, userID int64, ttl time.Duration) error
	// AuthenticatedUser returns the user id marked on sessionID, with found
	// false when the session is anonymous or expired.
	AuthenticatedUser(ctx context.Context, sessionID string) (int64, bool, error)
	// Clear removes all state for sessionID.
	Clear(ctx context.Context, sessionID string) error
}

// ConsumedCache remembers recently consumed context ids so a replayed
// callback is rejected even when it races the store round-trip. Bounded LRU,
// safe for concurrent use.
type ConsumedCache struct {
	cache *lru.Cache[string, time.Time]
}

// NewConsumedCache builds a cache holding up to size context ids.
func NewConsumedCache(size int) (*ConsumedCache, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumed-context cache: %w", err)
	}
	return &ConsumedCache{cache: cache}, nil
}

// MarkConsumed records contextID as used.
func (c *ConsumedCache) MarkConsumed(contextID string) {
	c.cache.Add(contextID, time.Now().UTC())
}

// WasConsumed reports whether contextID was already used.
func (c *ConsumedCache) WasConsumed(contextID string) bool {
	_, ok := c.cache.Get(contextID)
	return ok
}
