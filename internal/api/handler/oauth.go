package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/metrics"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/session"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// HintSettings marks a flow started from the settings pages rather than onboarding.
const HintSettings = "settings"

// Sessions issues and redeems OAuth state values.
type Sessions interface {
	Issue(ctx context.Context, tenantID string, provider models.ProviderType, hint string) (string, error)
	Consume(ctx context.Context, state string, provider models.ProviderType) (*session.Session, error)
}

// JiraDirectory lists what a Jira OAuth token can see.
type JiraDirectory interface {
	AccessibleResources(ctx context.Context, accessToken string) ([]provider.JiraSite, error)
	ListProjects(ctx context.Context, accessToken, cloudID string) ([]provider.JiraProject, error)
}

// GitHubDirectory lists what a GitHub token can see.
type GitHubDirectory interface {
	ListRepos(ctx context.Context, accessToken string) ([]provider.GitHubRepo, error)
}

// OAuthDeps holds what the OAuth start and callback handlers need.
type OAuthDeps struct {
	Brokers      map[models.ProviderType]provider.Broker
	Sessions     Sessions
	Integrations Integrations
	Jira         JiraDirectory
	// AppURL is the frontend base URL the callback redirects into.
	AppURL string
}

func brokerFor(w http.ResponseWriter, r *http.Request, brokers map[models.ProviderType]provider.Broker) (models.ProviderType, provider.Broker, bool) {
	p, err := models.ParseProviderType(chi.URLParam(r, "provider"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown provider", nil)
		return "", nil, false
	}
	b, ok := brokers[p]
	if !ok {
		response.Error(w, http.StatusNotFound, "NOT_CONFIGURED",
			providerName(p)+" sign-in is not configured", nil)
		return "", nil, false
	}
	return p, b, true
}

// NewOAuthStartHandler returns an http.HandlerFunc for GET /auth/{provider}/start.
// It redirects the tenant to the provider's consent screen.
func NewOAuthStartHandler(d OAuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}
		p, broker, ok := brokerFor(w, r, d.Brokers)
		if !ok {
			return
		}

		hint := ""
		if r.URL.Query().Get("from") == HintSettings {
			hint = HintSettings
		}

		state, err := d.Sessions.Issue(r.Context(), tenantID, p, hint)
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, broker.AuthorizationURL(state), http.StatusFound)
	}
}

// NewOAuthCallbackHandler returns an http.HandlerFunc for GET /auth/{provider}/callback.
// The tenant comes from the state session, not from a session token. Every
// outcome is a redirect into the frontend.
func NewOAuthCallbackHandler(d OAuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, broker, ok := brokerFor(w, r, d.Brokers)
		if !ok {
			return
		}
		ctx := r.Context()
		q := r.URL.Query()

		fail := func(reason string) {
			metrics.ObserveOAuthCallback(string(p), reason)
			http.Redirect(w, r, d.AppURL+"/onboarding/"+string(p)+"?error="+reason, http.StatusFound)
		}

		sess, err := d.Sessions.Consume(ctx, q.Get("state"), p)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidState) {
				slog.Error("oauth state lookup failed", "provider", p, "error", err)
				fail("server_error")
				return
			}
			fail("denied")
			return
		}
		log := slog.With("tenant_id", sess.TenantID, "provider", p)

		code := q.Get("code")
		if q.Get("error") != "" || code == "" {
			log.Info("authorization denied", "error", q.Get("error"))
			fail("denied")
			return
		}

		ts, err := broker.Exchange(ctx, code)
		if err != nil {
			log.Warn("code exchange failed", "error", err)
			if errors.Is(err, provider.ErrUpstreamAuth) {
				fail("exchange_failed")
			} else {
				fail("server_error")
			}
			return
		}

		var (
			creds *models.Credentials
			meta  map[string]string
			next  string
		)
		switch p {
		case models.ProviderSlack:
			creds = &models.Credentials{BotToken: ts.AccessToken}
			meta = map[string]string{
				models.MetaTeamID:    ts.Extra[provider.SlackExtraTeamID],
				models.MetaTeamName:  ts.Extra[provider.SlackExtraTeamName],
				models.MetaBotUserID: ts.Extra[provider.SlackExtraBotUserID],
				models.MetaAppID:     ts.Extra[provider.SlackExtraAppID],
				models.MetaScopes:    ts.Scope,
			}
			next = "/onboarding/jira"
			if sess.Hint == HintSettings {
				next = "/settings/slack"
			}

		case models.ProviderJira:
			if d.Jira == nil {
				fail("server_error")
				return
			}
			sites, err := d.Jira.AccessibleResources(ctx, ts.AccessToken)
			if err != nil {
				log.Error("listing jira sites failed", "error", err)
				fail("server_error")
				return
			}
			if len(sites) == 0 {
				fail("no_sites")
				return
			}
			// The first accessible site is used.
			site := sites[0]
			creds = &models.Credentials{
				AccessToken:  ts.AccessToken,
				RefreshToken: ts.RefreshToken,
				ExpiresAt:    ts.ExpiresAt,
			}
			meta = map[string]string{
				models.MetaAuthMode: models.AuthModeOAuth,
				models.MetaCloudID:  site.ID,
				models.MetaSiteURL:  site.URL,
				models.MetaSiteName: site.Name,
				models.MetaScopes:   ts.Scope,
			}
			next = withHint("/onboarding/jira/project", sess.Hint)

		case models.ProviderGitHub:
			creds = &models.Credentials{Token: ts.AccessToken}
			meta = map[string]string{
				models.MetaAuthMode: models.AuthModeOAuth,
				models.MetaScopes:   ts.Scope,
			}
			next = withHint("/onboarding/github/repo", sess.Hint)
		}

		if _, err := d.Integrations.Upsert(ctx, sess.TenantID, p, creds, meta); err != nil {
			log.Error("saving integration failed", "error", err)
			fail("server_error")
			return
		}

		metrics.ObserveOAuthCallback(string(p), "success")
		log.Info("integration connected")
		http.Redirect(w, r, d.AppURL+next, http.StatusFound)
	}
}

func withHint(path, hint string) string {
	if hint == "" {
		return path
	}
	return path + "?from=" + hint
}
