package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("kairo_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// storeFactories returns every Store implementation the shared cases run against.
// The Postgres one is skipped in -short mode.
func storeFactories() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemoryStore()
		},
		"postgres": func(t *testing.T) store.Store {
			if testing.Short() {
				t.Skip("skipping integration test")
			}
			return store.NewPostgresStore(setupTestDB(t))
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newInstance(tenantID string, status models.InstanceStatus) *models.Instance {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Instance{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		GatewayTokenHash:   "hash",
		GatewayTokenPrefix: "abcd1234",
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// --- Tenant Tests ---

func TestEnsureTenant_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		require.NoError(t, s.EnsureTenant(ctx, "user_1", "a@example.com"))
		require.NoError(t, s.EnsureTenant(ctx, "user_1", "changed@example.com"))

		tenant, err := s.GetTenant(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", tenant.Email)
	})
}

func TestGetTenant_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetTenant(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestDeleteTenant_Cascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		require.NoError(t, s.EnsureTenant(ctx, "user_2", ""))

		for _, tenant := range []string{"user_1", "user_2"} {
			_, err := s.UpsertIntegration(ctx, &models.Integration{
				TenantID: tenant, Type: models.ProviderSlack, CredentialsEncrypted: "ct",
			})
			require.NoError(t, err)
			require.NoError(t, s.CreateInstance(ctx, newInstance(tenant, models.InstanceRunning)))
		}

		require.NoError(t, s.DeleteTenant(ctx, "user_1"))

		_, err := s.GetTenant(ctx, "user_1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetIntegration(ctx, "user_1", models.ProviderSlack)
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, err := s.CountInstances(ctx, "user_1")
		require.NoError(t, err)
		assert.Zero(t, n)

		// Other tenants are untouched.
		_, err = s.GetIntegration(ctx, "user_2", models.ProviderSlack)
		assert.NoError(t, err)
		n, err = s.CountInstances(ctx, "user_2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestDeleteTenant_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		err := s.DeleteTenant(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

// --- Integration Tests ---

func TestUpsertIntegration_InsertThenMergeMetadata(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))

		first, err := s.UpsertIntegration(ctx, &models.Integration{
			TenantID:             "user_1",
			Type:                 models.ProviderJira,
			CredentialsEncrypted: "ct-1",
			Metadata:             map[string]string{"siteUrl": "https://a.atlassian.net", "projectKey": "OPS"},
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, first.ID)

		second, err := s.UpsertIntegration(ctx, &models.Integration{
			TenantID:             "user_1",
			Type:                 models.ProviderJira,
			CredentialsEncrypted: "ct-2",
			Metadata:             map[string]string{"siteUrl": "https://b.atlassian.net"},
		})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "row identity is preserved")
		assert.Equal(t, "ct-2", second.CredentialsEncrypted)
		assert.Equal(t, map[string]string{
			"siteUrl":    "https://b.atlassian.net",
			"projectKey": "OPS",
		}, second.Metadata)

		list, err := s.ListIntegrations(ctx, "user_1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestPatchIntegrationMetadata(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		_, err := s.UpsertIntegration(ctx, &models.Integration{
			TenantID: "user_1", Type: models.ProviderGitHub, CredentialsEncrypted: "ct",
			Metadata: map[string]string{"authMode": "oauth"},
		})
		require.NoError(t, err)

		err = s.PatchIntegrationMetadata(ctx, "user_1", models.ProviderGitHub,
			map[string]string{"owner": "acme", "repo": "api"})
		require.NoError(t, err)

		got, err := s.GetIntegration(ctx, "user_1", models.ProviderGitHub)
		require.NoError(t, err)
		assert.Equal(t, "oauth", got.Metadata["authMode"])
		assert.Equal(t, "acme", got.Metadata["owner"])
		assert.Equal(t, "api", got.Metadata["repo"])
		assert.Equal(t, "ct", got.CredentialsEncrypted)
	})
}

func TestPatchIntegrationMetadata_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		err := s.PatchIntegrationMetadata(context.Background(), "user_1", models.ProviderJira,
			map[string]string{"projectKey": "X"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestDeleteIntegration(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		_, err := s.UpsertIntegration(ctx, &models.Integration{
			TenantID: "user_1", Type: models.ProviderSlack, CredentialsEncrypted: "ct",
		})
		require.NoError(t, err)

		require.NoError(t, s.DeleteIntegration(ctx, "user_1", models.ProviderSlack))
		assert.ErrorIs(t, s.DeleteIntegration(ctx, "user_1", models.ProviderSlack), store.ErrNotFound)
	})
}

// --- Instance Tests ---

func TestCreateInstance_OneLivePerTenant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))

		require.NoError(t, s.CreateInstance(ctx, newInstance("user_1", models.InstanceProvisioning)))
		err := s.CreateInstance(ctx, newInstance("user_1", models.InstanceProvisioning))
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})
}

func TestCreateInstance_AllowedAfterDeleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))

		old := newInstance("user_1", models.InstanceRunning)
		require.NoError(t, s.CreateInstance(ctx, old))
		require.NoError(t, s.UpdateInstanceStatus(ctx, old.ID, models.InstanceDeleted))

		fresh := newInstance("user_1", models.InstanceProvisioning)
		fresh.CreatedAt = old.CreatedAt.Add(time.Second)
		require.NoError(t, s.CreateInstance(ctx, fresh))

		latest, err := s.GetInstance(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, latest.ID)

		n, err := s.CountInstances(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestGetInstance_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetInstance(context.Background(), "user_1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUpdateInstanceStatus_ValidTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		inst := newInstance("user_1", models.InstanceProvisioning)
		require.NoError(t, s.CreateInstance(ctx, inst))

		err := s.UpdateInstanceStatus(ctx, inst.ID, models.InstanceRunning,
			store.WithResource("svc-1", "kairo-user1.up.railway.app"))
		require.NoError(t, err)

		got, err := s.GetInstance(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, models.InstanceRunning, got.Status)
		require.NotNil(t, got.ResourceID)
		assert.Equal(t, "svc-1", *got.ResourceID)
		assert.Equal(t, "kairo-user1.up.railway.app", got.DomainOrEmpty())
	})
}

func TestUpdateInstanceStatus_InvalidTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		inst := newInstance("user_1", models.InstanceRunning)
		require.NoError(t, s.CreateInstance(ctx, inst))

		err := s.UpdateInstanceStatus(ctx, inst.ID, models.InstanceProvisioning)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestUpdateInstanceStatus_ErrorMessageLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		inst := newInstance("user_1", models.InstanceProvisioning)
		require.NoError(t, s.CreateInstance(ctx, inst))

		require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, models.InstanceError,
			store.WithErrorMessage("backend exploded")))
		got, err := s.GetInstance(ctx, "user_1")
		require.NoError(t, err)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "backend exploded", *got.ErrorMessage)

		// Retrying clears the previous failure.
		require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, models.InstanceProvisioning,
			store.WithGatewayToken("new-hash", "newprefx")))
		got, err = s.GetInstance(ctx, "user_1")
		require.NoError(t, err)
		assert.Nil(t, got.ErrorMessage)
		assert.Equal(t, "newprefx", got.GatewayTokenPrefix)
	})
}

func TestUpdateInstanceStatus_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		err := s.UpdateInstanceStatus(context.Background(), uuid.New(), models.InstanceRunning)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestGetInstancesByGatewayPrefix_SkipsDeleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.EnsureTenant(ctx, "user_1", ""))
		inst := newInstance("user_1", models.InstanceRunning)
		require.NoError(t, s.CreateInstance(ctx, inst))

		found, err := s.GetInstancesByGatewayPrefix(ctx, "abcd1234")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, inst.ID, found[0].ID)

		require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, models.InstanceDeleted))
		found, err = s.GetInstancesByGatewayPrefix(ctx, "abcd1234")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestLockTenant_Serializes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		unlock, err := s.LockTenant(ctx, "user_1")
		require.NoError(t, err)

		var mu sync.Mutex
		var order []string
		done := make(chan struct{})
		go func() {
			defer close(done)
			unlock2, err := s.LockTenant(ctx, "user_1")
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			unlock2()
		}()

		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		unlock()

		<-done
		assert.Equal(t, []string{"first", "second"}, order)
	})
}

func TestLockTenant_IndependentTenants(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store.Store) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unlock1, err := s.LockTenant(ctx, "user_1")
		require.NoError(t, err)
		defer unlock1()

		unlock2, err := s.LockTenant(ctx, "user_2")
		require.NoError(t, err)
		unlock2()
	})
}
