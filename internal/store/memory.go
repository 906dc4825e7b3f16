package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// MemoryStore is an in-process Store used by unit tests and local development.
// It enforces the same uniqueness and transition rules as PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	tenants      map[string]*models.Tenant
	integrations map[string]*models.Integration
	instances    []*models.Instance

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:      make(map[string]*models.Tenant),
		integrations: make(map[string]*models.Integration),
		locks:        make(map[string]*sync.Mutex),
		Now:          time.Now,
	}
}

func integrationKey(tenantID string, typ models.ProviderType) string {
	return tenantID + "/" + string(typ)
}

func (m *MemoryStore) now() time.Time {
	return m.Now().UTC()
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) EnsureTenant(_ context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[id]; ok {
		return nil
	}
	now := m.now()
	m.tenants[id] = &models.Tenant{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	for k, in := range m.integrations {
		if in.TenantID == id {
			delete(m.integrations, k)
		}
	}
	kept := m.instances[:0]
	for _, inst := range m.instances {
		if inst.TenantID != id {
			kept = append(kept, inst)
		}
	}
	m.instances = kept
	delete(m.tenants, id)
	return nil
}

func copyIntegration(in *models.Integration) *models.Integration {
	cp := *in
	cp.Metadata = maps.Clone(in.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = map[string]string{}
	}
	return &cp
}

func (m *MemoryStore) UpsertIntegration(_ context.Context, in *models.Integration) (*models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[in.TenantID]; !ok {
		return nil, fmt.Errorf("upsert integration: tenant %q does not exist", in.TenantID)
	}

	key := integrationKey(in.TenantID, in.Type)
	now := m.now()
	existing, ok := m.integrations[key]
	if !ok {
		stored := copyIntegration(in)
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		m.integrations[key] = stored
		return copyIntegration(stored), nil
	}

	existing.CredentialsEncrypted = in.CredentialsEncrypted
	maps.Copy(existing.Metadata, in.Metadata)
	existing.UpdatedAt = now
	return copyIntegration(existing), nil
}

func (m *MemoryStore) GetIntegration(_ context.Context, tenantID string, typ models.ProviderType) (*models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.integrations[integrationKey(tenantID, typ)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntegration(in), nil
}

func (m *MemoryStore) ListIntegrations(_ context.Context, tenantID string) ([]*models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Integration
	for _, in := range m.integrations {
		if in.TenantID == tenantID {
			out = append(out, copyIntegration(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (m *MemoryStore) PatchIntegrationMetadata(_ context.Context, tenantID string, typ models.ProviderType, patch map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.integrations[integrationKey(tenantID, typ)]
	if !ok {
		return ErrNotFound
	}
	maps.Copy(in.Metadata, patch)
	in.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteIntegration(_ context.Context, tenantID string, typ models.ProviderType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := integrationKey(tenantID, typ)
	if _, ok := m.integrations[key]; !ok {
		return ErrNotFound
	}
	delete(m.integrations, key)
	return nil
}

func copyInstance(inst *models.Instance) *models.Instance {
	cp := *inst
	return &cp
}

// latestInstance must be called with mu held.
func (m *MemoryStore) latestInstance(tenantID string) *models.Instance {
	var latest *models.Instance
	for _, inst := range m.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if latest == nil || !inst.CreatedAt.Before(latest.CreatedAt) {
			latest = inst
		}
	}
	return latest
}

func (m *MemoryStore) GetInstance(_ context.Context, tenantID string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst := m.latestInstance(tenantID)
	if inst == nil {
		return nil, ErrNotFound
	}
	return copyInstance(inst), nil
}

func (m *MemoryStore) GetInstancesByGatewayPrefix(_ context.Context, prefix string) ([]*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Instance
	for _, inst := range m.instances {
		if inst.GatewayTokenPrefix == prefix && inst.Status != models.InstanceDeleted {
			out = append(out, copyInstance(inst))
		}
	}
	return out, nil
}

func (m *MemoryStore) CountInstances(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, inst := range m.instances {
		if inst.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateInstance(_ context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[inst.TenantID]; !ok {
		return fmt.Errorf("create instance: tenant %q does not exist", inst.TenantID)
	}
	for _, existing := range m.instances {
		if existing.ID == inst.ID {
			return ErrDuplicateKey
		}
		// Mirrors the instances_one_live_per_tenant partial unique index.
		if existing.TenantID == inst.TenantID && existing.Status != models.InstanceDeleted &&
			inst.Status != models.InstanceDeleted {
			return ErrDuplicateKey
		}
	}
	m.instances = append(m.instances, copyInstance(inst))
	return nil
}

func (m *MemoryStore) UpdateInstanceStatus(_ context.Context, id uuid.UUID, status models.InstanceStatus, opts ...InstanceUpdateOption) error {
	params := applyOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	var inst *models.Instance
	for _, candidate := range m.instances {
		if candidate.ID == id {
			inst = candidate
			break
		}
	}
	if inst == nil {
		return ErrNotFound
	}
	if !inst.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inst.Status, status)
	}

	inst.Status = status
	inst.UpdatedAt = m.now()
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		inst.ErrorMessage = &msg
	} else if status != models.InstanceError {
		inst.ErrorMessage = nil
	}
	if params.ResourceID != nil {
		id := *params.ResourceID
		inst.ResourceID = &id
	}
	if params.Domain != nil {
		domain := *params.Domain
		inst.Domain = &domain
	}
	if params.GatewayTokenHash != nil {
		inst.GatewayTokenHash = *params.GatewayTokenHash
		inst.GatewayTokenPrefix = *params.GatewayTokenPrefix
	}
	return nil
}

func (m *MemoryStore) LockTenant(ctx context.Context, tenantID string) (func(), error) {
	m.locksMu.Lock()
	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	m.locksMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.Lock()
	return l.Unlock, nil
}

var _ Store = (*MemoryStore)(nil)
