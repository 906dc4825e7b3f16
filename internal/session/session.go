// Package session issues and redeems the single-use state values that carry a
// tenant through an OAuth redirect.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/kairo/internal/cache"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// TTL bounds how long a user has to complete the provider's consent screen.
const TTL = 10 * time.Minute

// ErrInvalidState means the state is unknown, expired or already used.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// Session is what a state value resolves to on the callback.
type Session struct {
	TenantID string              `json:"tenantId"`
	Provider models.ProviderType `json:"provider"`
	// Hint is where the flow was started from, e.g. "settings".
	Hint     string    `json:"hint,omitempty"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Sessions stores pending OAuth authorizations in the cache.
type Sessions struct {
	cache cache.Cache
	ttl   time.Duration
}

func New(c cache.Cache) *Sessions {
	return &Sessions{cache: c, ttl: TTL}
}

// Issue records a pending authorization and returns its opaque state value.
func (s *Sessions) Issue(ctx context.Context, tenantID string, provider models.ProviderType, hint string) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(b)

	data, err := json.Marshal(Session{
		TenantID: tenantID,
		Provider: provider,
		Hint:     hint,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := s.cache.Set(ctx, cache.OAuthStateKey(state), data, s.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return state, nil
}

// Consume redeems state exactly once. The session must have been issued for
// provider.
func (s *Sessions) Consume(ctx context.Context, state string, provider models.ProviderType) (*Session, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	data, ok, err := s.cache.GetDel(ctx, cache.OAuthStateKey(state))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if sess.Provider != provider || sess.TenantID == "" {
		return nil, ErrInvalidState
	}
	return &sess, nil
}
