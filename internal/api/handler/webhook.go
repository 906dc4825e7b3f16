package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/kairo/internal/api/response"
)

// Account webhook headers, in the svix format used by the identity system.
const (
	HeaderWebhookID        = "svix-id"
	HeaderWebhookTimestamp = "svix-timestamp"
	HeaderWebhookSignature = "svix-signature"

	webhookTolerance = 5 * time.Minute
	eventUserDeleted = "user.deleted"
)

var errBadSignature = errors.New("webhook signature mismatch")

// WebhookVerifier checks account webhook signatures. A nil verifier accepts
// every delivery.
type WebhookVerifier struct {
	key []byte
	Now func() time.Time
}

// NewWebhookVerifier builds a verifier from a "whsec_"-prefixed base64 secret.
// An empty secret yields a nil verifier.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &WebhookVerifier{key: key, Now: time.Now}, nil
}

// Sign returns the signature header value for a payload.
func (v *WebhookVerifier) Sign(id string, ts time.Time, body []byte) string {
	return "v1," + v.signature(id, strconv.FormatInt(ts.Unix(), 10), body)
}

func (v *WebhookVerifier) signature(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	_, _ = mac.Write([]byte(id + "." + ts + "."))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the delivery headers against the raw body.
func (v *WebhookVerifier) Verify(h http.Header, body []byte) error {
	id := h.Get(HeaderWebhookID)
	ts := h.Get(HeaderWebhookTimestamp)
	sigs := h.Get(HeaderWebhookSignature)
	if id == "" || ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing headers", errBadSignature)
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", errBadSignature)
	}
	age := v.Now().Sub(time.Unix(sec, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", errBadSignature)
	}

	want := v.signature(id, ts, body)
	for _, sig := range strings.Fields(sigs) {
		version, value, ok := strings.Cut(sig, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(value), []byte(want)) {
			return nil
		}
	}
	return errBadSignature
}

// TenantDeleter removes a tenant and everything it owns.
type TenantDeleter interface {
	OnTenantDeleted(ctx context.Context, tenantID string) error
}

// NewAccountWebhookHandler returns an http.HandlerFunc for POST /webhooks/account.
// Authenticated, well-formed deliveries are always acknowledged.
func NewAccountWebhookHandler(verifier *WebhookVerifier, tenants TenantDeleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read body", nil)
			return
		}

		if verifier != nil {
			if err := verifier.Verify(r.Header, body); err != nil {
				slog.Warn("account webhook rejected", "error", err)
				response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature", nil)
				return
			}
		}

		var event struct {
			Type string `json:"type"`
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if event.Type == eventUserDeleted && event.Data.ID != "" {
			if err := tenants.OnTenantDeleted(r.Context(), event.Data.ID); err != nil {
				slog.Error("tenant cleanup failed", "tenant_id", event.Data.ID, "error", err)
			} else {
				slog.Info("tenant deleted", "tenant_id", event.Data.ID)
			}
		}
		response.OK(w)
	}
}
