// Package provider talks to the chat, issue-tracker and source-control providers:
// OAuth code exchange and refresh, plus validation of manually entered credentials.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/kairo/pkg/models"
	"golang.org/x/oauth2"
)

// Sentinel errors for provider failures.
var (
	// ErrUpstreamAuth means the provider refused a code exchange or refresh.
	// The tenant has to reconnect the integration.
	ErrUpstreamAuth = errors.New("provider rejected authorization")
	// ErrInvalidCredential means a manually entered token or password was rejected.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrResourceNotFound means the credential works but the named project or
	// repository is missing or not visible to it.
	ErrResourceNotFound = errors.New("provider resource not found")
	// ErrUpstreamUnavailable covers network failures and unexpected provider responses.
	ErrUpstreamUnavailable = errors.New("provider unavailable")
	// ErrNotConfigured is returned for a provider whose OAuth client is not set up.
	ErrNotConfigured = errors.New("provider not configured")
)

// RefreshBuffer is how close to expiry an access token may get before it is refreshed.
const RefreshBuffer = 5 * time.Minute

// NeedsRefresh reports whether a token expiring at expiresAt must be refreshed at now.
// Tokens without an expiry never need a refresh.
func NeedsRefresh(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return expiresAt.Before(now.Add(RefreshBuffer))
}

// TokenSet is the result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
	// Extra carries provider-specific, non-secret fields (team id, bot user id...).
	Extra map[string]string
}

// Broker performs the OAuth authorization-code flow for one provider.
type Broker interface {
	Type() models.ProviderType
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenSet, error)
}

// Refresher is implemented by brokers whose access tokens expire.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// ValidationError is a user-facing rejection of manually entered credentials.
// Error returns the message meant for the tenant; Unwrap returns the sentinel kind.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Kind }

func validationErr(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// tokenSetFromOAuth2 converts an x/oauth2 token. Extra keys are copied when present
// as strings.
func tokenSetFromOAuth2(tok *oauth2.Token, extraKeys ...string) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Extra:        map[string]string{},
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		ts.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	for _, k := range extraKeys {
		if v, ok := tok.Extra(k).(string); ok && v != "" {
			ts.Extra[k] = v
		}
	}
	return ts
}

// classifyOAuthError maps an x/oauth2 failure to ErrUpstreamAuth or ErrUpstreamUnavailable.
func classifyOAuthError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "" && re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: status %d", ErrUpstreamUnavailable, op, re.Response.StatusCode)
		}
		code := re.ErrorCode
		if code == "" && re.Response != nil {
			code = fmt.Sprintf("status %d", re.Response.StatusCode)
		}
		if re.ErrorDescription != "" {
			return fmt.Errorf("%w: %s: %s: %s", ErrUpstreamAuth, op, code, re.ErrorDescription)
		}
		return fmt.Errorf("%w: %s: %s", ErrUpstreamAuth, op, code)
	}
	if strings.Contains(err.Error(), "missing access_token") {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamAuth, op, err)
	}
	return classifyError(err)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
