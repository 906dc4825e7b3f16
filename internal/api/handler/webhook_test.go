package handler_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/kiranshivaraju/kairo/internal/api/handler"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func deletedEvent(tenantID string) string {
	return `{"type":"user.deleted","data":{"id":"` + tenantID + `","deleted":true}}`
}

func signedRequest(t *testing.T, v *handler.WebhookVerifier, body string, at time.Time) *http.Request {
	t.Helper()
	req := newRequest(t, http.MethodPost, "/webhooks/account", body)
	req.Header.Set(handler.HeaderWebhookID, "msg_1")
	req.Header.Set(handler.HeaderWebhookTimestamp, strconv.FormatInt(at.Unix(), 10))
	req.Header.Set(handler.HeaderWebhookSignature, "v1,stale "+v.Sign("msg_1", at, []byte(body)))
	return req
}

func newVerifier(t *testing.T, now time.Time) *handler.WebhookVerifier {
	t.Helper()
	v, err := handler.NewWebhookVerifier(webhookSecret)
	require.NoError(t, err)
	v.Now = func() time.Time { return now }
	return v
}

func TestAccountWebhook_DeletesTenantAndInstance(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAll(t, testTenant)
	serve(handler.NewProvisionHandler(e.orch), provisionReq(t))

	now := time.Now()
	v := newVerifier(t, now)
	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), signedRequest(t, v, deletedEvent(testTenant), now))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, 1, e.backend.deletedCount())

	ctx := context.Background()
	_, err := e.store.GetTenant(ctx, testTenant)
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, err := e.store.ListIntegrations(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = e.store.GetInstance(ctx, testTenant)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountWebhook_DuplicateDeliveryIsNoop(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAll(t, testTenant)
	serve(handler.NewProvisionHandler(e.orch), provisionReq(t))

	now := time.Now()
	v := newVerifier(t, now)
	h := handler.NewAccountWebhookHandler(v, e.orch)
	for i := 0; i < 2; i++ {
		rec := serve(h, signedRequest(t, v, deletedEvent(testTenant), now))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, e.backend.deletedCount())
}

func TestAccountWebhook_OtherEventsIgnored(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAll(t, testTenant)

	now := time.Now()
	v := newVerifier(t, now)
	body := `{"type":"user.updated","data":{"id":"` + testTenant + `"}}`
	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), signedRequest(t, v, body, now))

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := e.store.GetTenant(context.Background(), testTenant)
	assert.NoError(t, err)
}

func TestAccountWebhook_BadSignature(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAll(t, testTenant)

	now := time.Now()
	v := newVerifier(t, now)
	req := signedRequest(t, v, deletedEvent(testTenant), now)
	req.Header.Set(handler.HeaderWebhookSignature, "v1,"+base64.StdEncoding.EncodeToString([]byte("forged")))

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), req)
	assertError(t, rec, http.StatusUnauthorized, "INVALID_SIGNATURE")

	_, err := e.store.GetTenant(context.Background(), testTenant)
	assert.NoError(t, err, "tenant must survive a forged delivery")
}

func TestAccountWebhook_TamperedBody(t *testing.T) {
	e := newEnv(t, nil)
	now := time.Now()
	v := newVerifier(t, now)

	req := signedRequest(t, v, deletedEvent("someone_else"), now)
	tampered := signedRequest(t, v, deletedEvent(testTenant), now)
	tampered.Header = req.Header

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), tampered)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountWebhook_StaleTimestamp(t *testing.T) {
	e := newEnv(t, nil)
	now := time.Now()
	v := newVerifier(t, now)

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch),
		signedRequest(t, v, deletedEvent(testTenant), now.Add(-10*time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountWebhook_MissingHeaders(t *testing.T) {
	e := newEnv(t, nil)
	v := newVerifier(t, time.Now())

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch),
		newRequest(t, http.MethodPost, "/webhooks/account", deletedEvent(testTenant)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountWebhook_MalformedBody(t *testing.T) {
	e := newEnv(t, nil)
	now := time.Now()
	v := newVerifier(t, now)

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), signedRequest(t, v, "{oops", now))
	assertError(t, rec, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestAccountWebhook_UnsignedWhenNoSecret(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAll(t, testTenant)

	v, err := handler.NewWebhookVerifier("")
	require.NoError(t, err)
	require.Nil(t, v)

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch),
		newRequest(t, http.MethodPost, "/webhooks/account", deletedEvent(testTenant)))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = e.store.GetTenant(context.Background(), testTenant)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountWebhook_UnknownTenantAcknowledged(t *testing.T) {
	e := newEnv(t, nil)
	now := time.Now()
	v := newVerifier(t, now)

	rec := serve(handler.NewAccountWebhookHandler(v, e.orch), signedRequest(t, v, deletedEvent("ghost"), now))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.backend.deletedCount())
}

func TestNewWebhookVerifier_BadSecret(t *testing.T) {
	_, err := handler.NewWebhookVerifier("whsec_%%%")
	assert.Error(t, err)
}
