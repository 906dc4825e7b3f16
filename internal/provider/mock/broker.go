package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// MockBroker satisfies provider.Broker and provider.Refresher for testing.
type MockBroker struct {
	Type_        models.ProviderType
	ExchangeFunc func(ctx context.Context, code string) (*provider.TokenSet, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*provider.TokenSet, error)

	mu           sync.Mutex
	RefreshCalls int
}

func (m *MockBroker) Type() models.ProviderType { return m.Type_ }

func (m *MockBroker) AuthorizationURL(state string) string {
	return "https://auth.example.com/" + string(m.Type_) + "?state=" + state
}

func (m *MockBroker) Exchange(ctx context.Context, code string) (*provider.TokenSet, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code)
	}
	return &provider.TokenSet{AccessToken: "access-" + code, Extra: map[string]string{}}, nil
}

func (m *MockBroker) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	m.mu.Lock()
	m.RefreshCalls++
	m.mu.Unlock()
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return &provider.TokenSet{AccessToken: "refreshed", RefreshToken: refreshToken, Extra: map[string]string{}}, nil
}

// Calls returns how many times Refresh ran.
func (m *MockBroker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RefreshCalls
}

// NewMockBroker returns a MockBroker with sensible default responses.
func NewMockBroker(typ models.ProviderType) *MockBroker {
	return &MockBroker{Type_: typ}
}

// NewRotatingBroker returns a MockBroker whose Refresh issues a new access token
// valid for ttl from now.
func NewRotatingBroker(typ models.ProviderType, accessToken string, ttl time.Duration) *MockBroker {
	return &MockBroker{
		Type_: typ,
		RefreshFunc: func(_ context.Context, refreshToken string) (*provider.TokenSet, error) {
			exp := time.Now().Add(ttl).UTC()
			return &provider.TokenSet{
				AccessToken:  accessToken,
				RefreshToken: refreshToken + "-rotated",
				ExpiresAt:    &exp,
				Extra:        map[string]string{},
			}, nil
		},
	}
}

// NewFailingBroker returns a MockBroker that always returns the given error.
func NewFailingBroker(typ models.ProviderType, err error) *MockBroker {
	return &MockBroker{
		Type_: typ,
		ExchangeFunc: func(_ context.Context, _ string) (*provider.TokenSet, error) {
			return nil, err
		},
		RefreshFunc: func(_ context.Context, _ string) (*provider.TokenSet, error) {
			return nil, err
		},
	}
}

// Compile-time check that MockBroker implements Broker and Refresher.
var (
	_ provider.Broker    = (*MockBroker)(nil)
	_ provider.Refresher = (*MockBroker)(nil)
)
