package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/kairo/internal/api/middleware"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/provision"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/internal/vault"
	"github.com/kiranshivaraju/kairo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "user_2abc"

// ─── fakes ───────────────────────────────────────────────────────────────────

// fakeBackend is an in-memory compute backend.
type fakeBackend struct {
	mu      sync.Mutex
	created int
	deleted []string
	err     error
}

func (f *fakeBackend) CreateService(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created++
	return fmt.Sprintf("svc-%d", f.created), nil
}

func (f *fakeBackend) UpsertVariables(_ context.Context, _ string, _ map[string]string) error {
	return nil
}

func (f *fakeBackend) CreateDomain(_ context.Context, id string, _ int) (string, error) {
	return id + ".up.railway.app", nil
}

func (f *fakeBackend) DeleteService(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

// env wires the real registry and orchestrator over a MemoryStore.
type env struct {
	store    *store.MemoryStore
	registry *integration.Registry
	orch     *provision.Orchestrator
	backend  *fakeBackend
}

func newEnv(t *testing.T, refreshers map[models.ProviderType]provider.Refresher) *env {
	t.Helper()
	v, err := vault.New([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	reg := integration.NewRegistry(s, v, refreshers)
	backend := &fakeBackend{}
	orch := provision.NewOrchestrator(s, reg, backend, provision.Settings{
		SlackAppToken: "xapp-1",
		ModelAPIKey:   "sk-ant-1",
		Port:          3000,
		StateDir:      "/data",
		RuntimeMode:   "production",
		ControlURL:    "https://app.kairo.dev",
	})
	return &env{store: s, registry: reg, orch: orch, backend: backend}
}

// connectAll stores working integrations for every required provider.
func (e *env) connectAll(t *testing.T, tenantID string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.registry.Upsert(ctx, tenantID, models.ProviderSlack,
		&models.Credentials{BotToken: "xoxb-1"}, map[string]string{models.MetaTeamID: "T0"})
	require.NoError(t, err)
	_, err = e.registry.Upsert(ctx, tenantID, models.ProviderJira,
		&models.Credentials{Email: "dev@acme.io", APIToken: "jt"},
		map[string]string{
			models.MetaAuthMode:   models.AuthModeBasic,
			models.MetaSiteURL:    "https://acme.atlassian.net",
			models.MetaProjectKey: "OPS",
		})
	require.NoError(t, err)
	_, err = e.registry.Upsert(ctx, tenantID, models.ProviderGitHub,
		&models.Credentials{Token: "ghp_1"},
		map[string]string{models.MetaAuthMode: models.AuthModePAT, models.MetaOwner: "acme", models.MetaRepo: "api"})
	require.NoError(t, err)
}

// ─── request helpers ─────────────────────────────────────────────────────────

func newRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asTenant(req *http.Request, tenantID string) *http.Request {
	return req.WithContext(mw.SetTenantID(req.Context(), tenantID))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, code, body["code"])
	assert.NotEmpty(t, body["error"])
	return body
}
