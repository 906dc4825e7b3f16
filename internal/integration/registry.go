// Package integration stores and reads a tenant's linked provider accounts.
// Credentials are sealed with the vault before they reach the store and are
// only ever decrypted here.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/kairo/internal/metrics"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/internal/vault"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// ErrReconnectRequired means a stored token expired and cannot be refreshed.
// It matches provider.ErrUpstreamAuth.
var ErrReconnectRequired = fmt.Errorf("%w: integration must be reconnected", provider.ErrUpstreamAuth)

// Entry is an integration together with its decrypted credentials.
type Entry struct {
	Integration *models.Integration
	Credentials *models.Credentials
}

// Registry is the only reader and writer of integration credentials.
type Registry struct {
	store      store.Store
	vault      *vault.Vault
	refreshers map[models.ProviderType]provider.Refresher

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// NewRegistry creates a Registry. refreshers holds the brokers able to refresh
// expiring access tokens, keyed by provider.
func NewRegistry(s store.Store, v *vault.Vault, refreshers map[models.ProviderType]provider.Refresher) *Registry {
	if refreshers == nil {
		refreshers = map[models.ProviderType]provider.Refresher{}
	}
	return &Registry{store: s, vault: v, refreshers: refreshers, Now: time.Now}
}

// Upsert seals creds and inserts or updates the (tenant, provider) integration.
// metadata is merged over what is already stored; keys not named are kept.
func (r *Registry) Upsert(ctx context.Context, tenantID string, typ models.ProviderType, creds *models.Credentials, metadata map[string]string) (*models.Integration, error) {
	sealed, err := r.vault.Seal(creds)
	if err != nil {
		return nil, fmt.Errorf("seal %s credentials: %w", typ, err)
	}

	if err := r.store.EnsureTenant(ctx, tenantID, creds.Email); err != nil {
		return nil, err
	}

	in, err := r.store.UpsertIntegration(ctx, &models.Integration{
		TenantID:             tenantID,
		Type:                 typ,
		CredentialsEncrypted: sealed,
		Metadata:             metadata,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("integration saved", "tenant_id", tenantID, "provider", typ)
	return in, nil
}

// Get returns the integration with decrypted credentials. store.ErrNotFound means
// the provider is not connected. A decryption failure is returned as
// vault.ErrDecryption and must never be treated as "not connected".
func (r *Registry) Get(ctx context.Context, tenantID string, typ models.ProviderType) (*Entry, error) {
	in, err := r.store.GetIntegration(ctx, tenantID, typ)
	if err != nil {
		return nil, err
	}

	var creds models.Credentials
	if err := r.vault.Open(in.CredentialsEncrypted, &creds); err != nil {
		slog.Error("integration credentials unreadable", "tenant_id", tenantID, "provider", typ, "error", err)
		return nil, fmt.Errorf("open %s credentials: %w", typ, err)
	}
	return &Entry{Integration: in, Credentials: &creds}, nil
}

// List returns the tenant's integrations without decrypting them.
func (r *Registry) List(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	return r.store.ListIntegrations(ctx, tenantID)
}

// PatchMetadata merges patch into the integration's metadata without touching credentials.
func (r *Registry) PatchMetadata(ctx context.Context, tenantID string, typ models.ProviderType, patch map[string]string) error {
	return r.store.PatchIntegrationMetadata(ctx, tenantID, typ, patch)
}

// Delete removes one integration.
func (r *Registry) Delete(ctx context.Context, tenantID string, typ models.ProviderType) error {
	return r.store.DeleteIntegration(ctx, tenantID, typ)
}

// AccessToken returns a usable token for the provider, refreshing and persisting
// it first when it expires within provider.RefreshBuffer. Concurrent refreshes
// for the same integration are not coordinated; the last write wins.
func (r *Registry) AccessToken(ctx context.Context, tenantID string, typ models.ProviderType) (string, error) {
	entry, err := r.Get(ctx, tenantID, typ)
	if err != nil {
		return "", err
	}
	creds, err := r.fresh(ctx, tenantID, typ, entry.Credentials)
	if err != nil {
		return "", err
	}
	return PrimaryToken(typ, creds), nil
}

// Fresh is Get followed by a refresh when the stored access token is about to expire.
func (r *Registry) Fresh(ctx context.Context, tenantID string, typ models.ProviderType) (*Entry, error) {
	entry, err := r.Get(ctx, tenantID, typ)
	if err != nil {
		return nil, err
	}
	creds, err := r.fresh(ctx, tenantID, typ, entry.Credentials)
	if err != nil {
		return nil, err
	}
	entry.Credentials = creds
	return entry, nil
}

func (r *Registry) fresh(ctx context.Context, tenantID string, typ models.ProviderType, creds *models.Credentials) (*models.Credentials, error) {
	if !provider.NeedsRefresh(creds.ExpiresAt, r.Now()) {
		return creds, nil
	}

	refresher, ok := r.refreshers[typ]
	if !ok || creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s token expired", ErrReconnectRequired, typ)
	}

	ts, err := refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		metrics.ObserveTokenRefresh(string(typ), "failure")
		slog.Warn("token refresh failed", "tenant_id", tenantID, "provider", typ, "error", err)
		if errors.Is(err, provider.ErrUpstreamAuth) {
			return nil, fmt.Errorf("%w: %w", ErrReconnectRequired, err)
		}
		return nil, fmt.Errorf("refresh %s token: %w", typ, err)
	}

	updated := *creds
	updated.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		updated.RefreshToken = ts.RefreshToken
	}
	updated.ExpiresAt = ts.ExpiresAt

	if _, err := r.Upsert(ctx, tenantID, typ, &updated, nil); err != nil {
		return nil, fmt.Errorf("persist refreshed %s token: %w", typ, err)
	}
	metrics.ObserveTokenRefresh(string(typ), "success")
	return &updated, nil
}

// PrimaryToken picks the credential an instance authenticates to the provider with.
func PrimaryToken(typ models.ProviderType, creds *models.Credentials) string {
	switch typ {
	case models.ProviderSlack:
		return creds.BotToken
	case models.ProviderGitHub:
		return creds.Token
	case models.ProviderJira:
		if creds.AccessToken != "" {
			return creds.AccessToken
		}
		return creds.APIToken
	}
	return ""
}
