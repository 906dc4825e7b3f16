// Package handler implements the control plane's HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/kairo/internal/api/middleware"
	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/provision"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/internal/vault"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

const maxBodyBytes = 1 << 20

// Integrations is the integration registry as the handlers use it.
type Integrations interface {
	Upsert(ctx context.Context, tenantID string, typ models.ProviderType, creds *models.Credentials, metadata map[string]string) (*models.Integration, error)
	Get(ctx context.Context, tenantID string, typ models.ProviderType) (*integration.Entry, error)
	List(ctx context.Context, tenantID string) ([]*models.Integration, error)
	PatchMetadata(ctx context.Context, tenantID string, typ models.ProviderType, patch map[string]string) error
	AccessToken(ctx context.Context, tenantID string, typ models.ProviderType) (string, error)
}

// Instances is the provisioning orchestrator as the handlers use it.
type Instances interface {
	Provision(ctx context.Context, tenantID string) (*models.Instance, error)
	ConfirmRunning(ctx context.Context, tenantID string) (*models.Instance, error)
	Status(ctx context.Context, tenantID string) (*models.Instance, error)
	DeleteInstance(ctx context.Context, tenantID string) error
	OnTenantDeleted(ctx context.Context, tenantID string) error
}

var (
	_ Integrations = (*integration.Registry)(nil)
	_ Instances    = (*provision.Orchestrator)(nil)
)

func tenantOrUnauthorized(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	return tenantID, ok
}

// decodeJSON reads a JSON request body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// writeValidationError reports a rejected credential. Every validation failure
// is the tenant's to fix, so all of them are 400 with the provider's message.
func writeValidationError(w http.ResponseWriter, err error) bool {
	var ve *provider.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	code := "UPSTREAM_UNAVAILABLE"
	switch {
	case errors.Is(err, provider.ErrInvalidCredential):
		code = "INVALID_CREDENTIAL"
	case errors.Is(err, provider.ErrResourceNotFound):
		code = "RESOURCE_NOT_FOUND"
	}
	response.Error(w, http.StatusBadRequest, code, ve.Message, nil)
	return true
}

// writeError maps domain errors to HTTP responses. Anything unrecognised is a
// 500 with an opaque message; the cause is logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if writeValidationError(w, err) {
		return
	}

	var already *provision.AlreadyProvisionedError
	var missing *provision.MissingIntegrationError

	switch {
	case errors.As(err, &already):
		response.Error(w, http.StatusConflict, "ALREADY_PROVISIONED", "Instance already exists",
			map[string]string{"domain": already.Domain, "status": string(already.Status)})
	case errors.As(err, &missing):
		response.Error(w, http.StatusBadRequest, "MISSING_INTEGRATION", missing.Error(),
			map[string]string{"provider": string(missing.Provider)})
	case errors.Is(err, provision.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, vault.ErrDecryption):
		slog.Error("stored credentials could not be decrypted", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	case errors.Is(err, provision.ErrProvisioningFailure):
		slog.Error("provisioning failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "PROVISIONING_FAILED", "Failed to provision instance", nil)
	case errors.Is(err, integration.ErrReconnectRequired):
		response.Error(w, http.StatusUnauthorized, "RECONNECT_REQUIRED", "Token expired, please reconnect", nil)
	case errors.Is(err, provider.ErrUpstreamAuth):
		slog.Warn("provider rejected request", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadRequest, "UPSTREAM_AUTH", err.Error(), nil)
	case errors.Is(err, provider.ErrUpstreamUnavailable):
		slog.Warn("provider unavailable", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "The provider is not available", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func providerName(p models.ProviderType) string {
	switch p {
	case models.ProviderSlack:
		return "Slack"
	case models.ProviderJira:
		return "Jira"
	case models.ProviderGitHub:
		return "GitHub"
	}
	return string(p)
}
