package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// SessionCookie is the cookie the identity provider's frontend SDK stores the
// session token in. Browsers send it on same-site requests.
const SessionCookie = "__session"

// TenantAuth verifies session tokens issued by the external identity system.
// The token's subject is the tenant id.
type TenantAuth struct {
	secret []byte
	issuer string
}

// NewTenantAuth creates TenantAuth for HS256 tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewTenantAuth(secret, issuer string) *TenantAuth {
	return &TenantAuth{secret: []byte(secret), issuer: issuer}
}

// Authenticate validates the bearer token (or session cookie) and sets the
// tenant id in the request context.
func (a *TenantAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				raw = c.Value
			}
		}
		if raw == "" {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}

		tenantID, err := a.verify(raw)
		if err != nil {
			slog.Debug("session rejected", "error", err)
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetTenantID(r.Context(), tenantID)))
	})
}

func (a *TenantAuth) verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

const gatewayPrefixLen = 8

// GatewayAuth authenticates provisioned instances calling back with the gateway
// token they were deployed with.
type GatewayAuth struct {
	store store.Store
}

func NewGatewayAuth(s store.Store) *GatewayAuth {
	return &GatewayAuth{store: s}
}

// Authenticate looks the token up by prefix, confirms it against the stored
// bcrypt hash and sets the instance and its tenant in the request context.
func (a *GatewayAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(raw) < gatewayPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid gateway token format", nil)
			return
		}

		candidates, err := a.store.GetInstancesByGatewayPrefix(r.Context(), raw[:gatewayPrefixLen])
		if err != nil {
			slog.Error("gateway token lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate gateway token", nil)
			return
		}

		for _, inst := range candidates {
			if bcrypt.CompareHashAndPassword([]byte(inst.GatewayTokenHash), []byte(raw)) == nil {
				ctx := SetInstance(r.Context(), inst)
				ctx = SetTenantID(ctx, inst.TenantID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid gateway token", nil)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
