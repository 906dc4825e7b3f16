package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) EnsureTenant(ctx context.Context, id, email string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, email, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (id) DO NOTHING`, id, email)
	if err != nil {
		return fmt.Errorf("ensure tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Email, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete tenant: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM integrations WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("delete tenant integrations: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM instances WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("delete tenant instances: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete tenant: %w", err)
	}
	return nil
}

// --- Integrations ---

const integrationColumns = `id, tenant_id, type, credentials_encrypted, metadata, created_at, updated_at`

func scanIntegration(row pgx.Row) (*models.Integration, error) {
	var in models.Integration
	if err := row.Scan(&in.ID, &in.TenantID, &in.Type, &in.CredentialsEncrypted,
		&in.Metadata, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	return &in, nil
}

func (s *PostgresStore) UpsertIntegration(ctx context.Context, in *models.Integration) (*models.Integration, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	meta := in.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	result, err := scanIntegration(s.pool.QueryRow(ctx,
		`INSERT INTO integrations (`+integrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5::jsonb, NOW(), NOW())
		 ON CONFLICT (tenant_id, type) DO UPDATE SET
		   credentials_encrypted = EXCLUDED.credentials_encrypted,
		   metadata = integrations.metadata || EXCLUDED.metadata,
		   updated_at = NOW()
		 RETURNING `+integrationColumns,
		in.ID, in.TenantID, in.Type, in.CredentialsEncrypted, meta,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert integration: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetIntegration(ctx context.Context, tenantID string, typ models.ProviderType) (*models.Integration, error) {
	in, err := scanIntegration(s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE tenant_id = $1 AND type = $2`,
		tenantID, typ))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return in, nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE tenant_id = $1 ORDER BY type`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PatchIntegrationMetadata(ctx context.Context, tenantID string, typ models.ProviderType, patch map[string]string) error {
	if patch == nil {
		patch = map[string]string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations SET metadata = metadata || $3::jsonb, updated_at = NOW()
		 WHERE tenant_id = $1 AND type = $2`, tenantID, typ, patch)
	if err != nil {
		return fmt.Errorf("patch integration metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteIntegration(ctx context.Context, tenantID string, typ models.ProviderType) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM integrations WHERE tenant_id = $1 AND type = $2`, tenantID, typ)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Instances ---

const instanceColumns = `id, tenant_id, resource_id, domain, gateway_token_hash, gateway_token_prefix,
	status, error_message, created_at, updated_at`

func scanInstance(row pgx.Row) (*models.Instance, error) {
	var i models.Instance
	if err := row.Scan(&i.ID, &i.TenantID, &i.ResourceID, &i.Domain, &i.GatewayTokenHash,
		&i.GatewayTokenPrefix, &i.Status, &i.ErrorMessage, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, tenantID string) (*models.Instance, error) {
	inst, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT 1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) GetInstancesByGatewayPrefix(ctx context.Context, prefix string) ([]*models.Instance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE gateway_token_prefix = $1 AND status <> 'deleted'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get instances by gateway prefix: %w", err)
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountInstances(ctx context.Context, tenantID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM instances WHERE tenant_id = $1`, tenantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.Instance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instances (`+instanceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inst.ID, inst.TenantID, inst.ResourceID, inst.Domain, inst.GatewayTokenHash,
		inst.GatewayTokenPrefix, inst.Status, inst.ErrorMessage, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateInstanceStatus(ctx context.Context, id uuid.UUID, status models.InstanceStatus, opts ...InstanceUpdateOption) error {
	params := applyOptions(opts)

	// Fetch current status
	var current models.InstanceStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM instances WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get instance status: %w", err)
	}

	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	query := `UPDATE instances SET status = $3, updated_at = $4`
	args := []any{id, current, status, time.Now().UTC()}
	argIdx := 5

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	} else if status != models.InstanceError {
		query += ", error_message = NULL"
	}
	if params.ResourceID != nil {
		query += fmt.Sprintf(", resource_id = $%d", argIdx)
		args = append(args, *params.ResourceID)
		argIdx++
	}
	if params.Domain != nil {
		query += fmt.Sprintf(", domain = $%d", argIdx)
		args = append(args, *params.Domain)
		argIdx++
	}
	if params.GatewayTokenHash != nil {
		query += fmt.Sprintf(", gateway_token_hash = $%d, gateway_token_prefix = $%d", argIdx, argIdx+1)
		args = append(args, *params.GatewayTokenHash, *params.GatewayTokenPrefix)
		argIdx += 2
	}

	// The status guard makes a concurrent transition lose instead of overwrite.
	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update instance status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: status of %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// --- Locking ---

// LockTenant takes a session-level advisory lock on a dedicated pooled connection.
func (s *PostgresStore) LockTenant(ctx context.Context, tenantID string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, tenantID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock tenant: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, tenantID); err != nil {
			// A connection still holding the lock must not go back to the pool.
			slog.Warn("tenant unlock failed, discarding connection", "tenant_id", tenantID, "error", err)
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
