package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/kairo/internal/api/middleware"
	"github.com/kiranshivaraju/kairo/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	TenantAuth  *mw.TenantAuth
	GatewayAuth *mw.GatewayAuth
	RateLimit   *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	OAuthStart     http.HandlerFunc
	OAuthCallback  http.HandlerFunc
	JiraValidate   http.HandlerFunc
	GitHubValidate http.HandlerFunc
	JiraProjects   http.HandlerFunc
	JiraProject    http.HandlerFunc
	GitHubRepos    http.HandlerFunc
	GitHubRepo     http.HandlerFunc
	Integrations   http.HandlerFunc

	Provision      http.HandlerFunc
	InstanceStatus http.HandlerFunc
	ConfirmRunning http.HandlerFunc
	DeleteInstance http.HandlerFunc

	AccountWebhook http.HandlerFunc
	GatewayToken   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/healthz", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	// The tenant is carried by the OAuth state, not a session.
	r.Get("/auth/{provider}/callback", orNotImplemented(deps.OAuthCallback))
	r.Post("/webhooks/account", orNotImplemented(deps.AccountWebhook))

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(deps.TenantAuth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/auth/{provider}/start", orNotImplemented(deps.OAuthStart))
		r.Post("/auth/jira/validate", orNotImplemented(deps.JiraValidate))
		r.Post("/auth/github/validate", orNotImplemented(deps.GitHubValidate))
		r.Get("/auth/jira/projects", orNotImplemented(deps.JiraProjects))
		r.Post("/auth/jira/project", orNotImplemented(deps.JiraProject))
		r.Get("/auth/github/repos", orNotImplemented(deps.GitHubRepos))
		r.Post("/auth/github/repo", orNotImplemented(deps.GitHubRepo))
		r.Get("/integrations", orNotImplemented(deps.Integrations))

		r.Post("/provision", orNotImplemented(deps.Provision))
		r.Get("/instance/status", orNotImplemented(deps.InstanceStatus))
		r.Post("/instance/status", orNotImplemented(deps.ConfirmRunning))
		r.Post("/instance/delete", orNotImplemented(deps.DeleteInstance))
	})

	// Instance routes
	r.Group(func(r chi.Router) {
		r.Use(deps.GatewayAuth.Authenticate)

		r.Get("/gateway/integrations/{provider}/token", orNotImplemented(deps.GatewayToken))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
