package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/kairo/internal/api/middleware"
	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// NewGatewayTokenHandler returns an http.HandlerFunc for
// GET /gateway/integrations/{provider}/token. Instances call it with their
// gateway token to get a current access token, refreshed when close to expiry.
func NewGatewayTokenHandler(integrations Integrations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, ok := mw.GetInstance(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid gateway token", nil)
			return
		}

		p, err := models.ParseProviderType(chi.URLParam(r, "provider"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown provider", nil)
			return
		}

		token, err := integrations.AccessToken(r.Context(), inst.TenantID, p)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "MISSING_INTEGRATION", providerName(p)+" not connected", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"provider": p, "token": token})
	}
}
