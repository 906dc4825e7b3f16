package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/provision"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// JiraValidator checks Jira basic-auth credentials.
type JiraValidator interface {
	Validate(ctx context.Context, siteURL, email, apiToken, projectKey string) error
}

// GitHubValidator checks a GitHub personal access token.
type GitHubValidator interface {
	Validate(ctx context.Context, token, owner, repo string) error
}

// NewJiraValidateHandler returns an http.HandlerFunc for POST /auth/jira/validate.
// Nothing is stored unless the credentials and project check out.
func NewJiraValidateHandler(v JiraValidator, integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		var req struct {
			SiteURL    string `json:"siteUrl"`
			Email      string `json:"email"`
			APIToken   string `json:"apiToken"`
			ProjectKey string `json:"projectKey"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		req.ProjectKey = strings.TrimSpace(req.ProjectKey)
		if req.SiteURL == "" || req.Email == "" || req.APIToken == "" || req.ProjectKey == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "All fields are required", nil)
			return
		}

		if err := v.Validate(r.Context(), req.SiteURL, req.Email, req.APIToken, req.ProjectKey); err != nil {
			slog.Info("jira credentials rejected", "tenant_id", tenantID, "error", err)
			writeError(w, r, err)
			return
		}

		_, err := integrations.Upsert(r.Context(), tenantID, models.ProviderJira,
			&models.Credentials{Email: req.Email, APIToken: req.APIToken},
			map[string]string{
				models.MetaAuthMode:         models.AuthModeBasic,
				models.MetaSiteURL:          provider.NormalizeSiteURL(req.SiteURL),
				models.MetaProjectKey:       req.ProjectKey,
				models.MetaDefaultIssueType: provision.FallbackIssueType,
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w)
	}
}

// NewGitHubValidateHandler returns an http.HandlerFunc for POST /auth/github/validate.
func NewGitHubValidateHandler(v GitHubValidator, integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		var req struct {
			Token string `json:"token"`
			Owner string `json:"owner"`
			Repo  string `json:"repo"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Token == "" || req.Owner == "" || req.Repo == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "All fields are required", nil)
			return
		}

		if err := v.Validate(r.Context(), req.Token, req.Owner, req.Repo); err != nil {
			slog.Info("github token rejected", "tenant_id", tenantID, "error", err)
			writeError(w, r, err)
			return
		}

		_, err := integrations.Upsert(r.Context(), tenantID, models.ProviderGitHub,
			&models.Credentials{Token: req.Token},
			map[string]string{
				models.MetaAuthMode: models.AuthModePAT,
				models.MetaOwner:    req.Owner,
				models.MetaRepo:     req.Repo,
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w)
	}
}

// connectedToken returns a usable token for an OAuth-connected provider,
// writing the error response itself when there is none.
func connectedToken(w http.ResponseWriter, r *http.Request, integrations Integrations, tenantID string, p models.ProviderType) (*integration.Entry, string, bool) {
	entry, err := integrations.Get(r.Context(), tenantID, p)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusBadRequest, "MISSING_INTEGRATION", providerName(p)+" not connected", nil)
		return nil, "", false
	}
	if err != nil {
		writeError(w, r, err)
		return nil, "", false
	}
	if entry.Integration.Metadata[models.MetaAuthMode] != models.AuthModeOAuth {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "OAuth not configured", nil)
		return nil, "", false
	}

	token, err := integrations.AccessToken(r.Context(), tenantID, p)
	if errors.Is(err, integration.ErrReconnectRequired) {
		response.Error(w, http.StatusUnauthorized, "RECONNECT_REQUIRED",
			"Token expired, please reconnect "+providerName(p), nil)
		return nil, "", false
	}
	if err != nil {
		writeError(w, r, err)
		return nil, "", false
	}
	return entry, token, true
}

// NewJiraProjectsHandler returns an http.HandlerFunc for GET /auth/jira/projects.
func NewJiraProjectsHandler(jira JiraDirectory, integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		entry, token, ok := connectedToken(w, r, integrations, tenantID, models.ProviderJira)
		if !ok {
			return
		}
		cloudID := entry.Integration.Metadata[models.MetaCloudID]
		if cloudID == "" || jira == nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "OAuth not configured", nil)
			return
		}

		projects, err := jira.ListProjects(r.Context(), token, cloudID)
		if err != nil {
			slog.Error("listing jira projects failed", "tenant_id", tenantID, "error", err)
			writeListError(w, models.ProviderJira, err, "Failed to load projects")
			return
		}
		if projects == nil {
			projects = []provider.JiraProject{}
		}
		response.JSON(w, map[string]any{"projects": projects})
	}
}

// NewJiraProjectHandler returns an http.HandlerFunc for POST /auth/jira/project.
// It records the tenant's project choice after an OAuth connect.
func NewJiraProjectHandler(integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		var req struct {
			ProjectKey string `json:"projectKey"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ProjectKey) == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "projectKey is required", nil)
			return
		}

		err := integrations.PatchMetadata(r.Context(), tenantID, models.ProviderJira, map[string]string{
			models.MetaProjectKey:       strings.TrimSpace(req.ProjectKey),
			models.MetaDefaultIssueType: provision.FallbackIssueType,
		})
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusBadRequest, "MISSING_INTEGRATION", "Jira not connected", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w)
	}
}

// NewGitHubReposHandler returns an http.HandlerFunc for GET /auth/github/repos.
func NewGitHubReposHandler(github GitHubDirectory, integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		_, token, ok := connectedToken(w, r, integrations, tenantID, models.ProviderGitHub)
		if !ok {
			return
		}
		if github == nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "OAuth not configured", nil)
			return
		}

		repos, err := github.ListRepos(r.Context(), token)
		if err != nil {
			slog.Error("listing github repos failed", "tenant_id", tenantID, "error", err)
			writeListError(w, models.ProviderGitHub, err, "Failed to load repositories")
			return
		}
		if repos == nil {
			repos = []provider.GitHubRepo{}
		}
		response.JSON(w, map[string]any{"repos": repos})
	}
}

// NewGitHubRepoHandler returns an http.HandlerFunc for POST /auth/github/repo.
func NewGitHubRepoHandler(integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		var req struct {
			Owner string `json:"owner"`
			Repo  string `json:"repo"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Owner == "" || req.Repo == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "owner and repo are required", nil)
			return
		}

		err := integrations.PatchMetadata(r.Context(), tenantID, models.ProviderGitHub, map[string]string{
			models.MetaOwner: req.Owner,
			models.MetaRepo:  req.Repo,
		})
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusBadRequest, "MISSING_INTEGRATION", "GitHub not connected", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w)
	}
}

type integrationView struct {
	Type        models.ProviderType `json:"type"`
	Metadata    map[string]string   `json:"metadata"`
	ConnectedAt time.Time           `json:"connectedAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// NewListIntegrationsHandler returns an http.HandlerFunc for GET /integrations.
// Only non-secret metadata is returned.
func NewListIntegrationsHandler(integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		list, err := integrations.List(r.Context(), tenantID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := make([]integrationView, 0, len(list))
		for _, in := range list {
			meta := in.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			out = append(out, integrationView{
				Type:        in.Type,
				Metadata:    meta,
				ConnectedAt: in.CreatedAt,
				UpdatedAt:   in.UpdatedAt,
			})
		}
		response.JSON(w, map[string]any{"integrations": out})
	}
}

// writeListError reports a failed directory listing. A token the provider no
// longer accepts means the tenant has to reconnect.
func writeListError(w http.ResponseWriter, p models.ProviderType, err error, msg string) {
	if errors.Is(err, provider.ErrUpstreamAuth) {
		response.Error(w, http.StatusUnauthorized, "RECONNECT_REQUIRED",
			providerName(p)+" rejected the stored token, please reconnect", nil)
		return
	}
	response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", msg, nil)
}
