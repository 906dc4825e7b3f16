package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when an instance status change is not allowed
// from the instance's current status.
var ErrInvalidTransition = errors.New("invalid instance status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// EnsureTenant creates the tenant row if it does not exist. An existing row is left as is.
	EnsureTenant(ctx context.Context, id, email string) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	// DeleteTenant removes the tenant's integrations, instances and the tenant row
	// in one transaction. Returns ErrNotFound when the tenant does not exist.
	DeleteTenant(ctx context.Context, id string) error

	// UpsertIntegration inserts or updates the (tenant, type) integration. Credentials
	// are replaced; Metadata is shallow-merged over the stored metadata.
	UpsertIntegration(ctx context.Context, in *models.Integration) (*models.Integration, error)
	GetIntegration(ctx context.Context, tenantID string, typ models.ProviderType) (*models.Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]*models.Integration, error)
	PatchIntegrationMetadata(ctx context.Context, tenantID string, typ models.ProviderType, patch map[string]string) error
	DeleteIntegration(ctx context.Context, tenantID string, typ models.ProviderType) error

	// GetInstance returns the tenant's most recently created instance, whatever its status.
	GetInstance(ctx context.Context, tenantID string) (*models.Instance, error)
	GetInstancesByGatewayPrefix(ctx context.Context, prefix string) ([]*models.Instance, error)
	CountInstances(ctx context.Context, tenantID string) (int, error)
	CreateInstance(ctx context.Context, inst *models.Instance) error
	UpdateInstanceStatus(ctx context.Context, id uuid.UUID, status models.InstanceStatus, opts ...InstanceUpdateOption) error

	// LockTenant serializes callers on a per-tenant lock until the returned
	// unlock function is called.
	LockTenant(ctx context.Context, tenantID string) (unlock func(), err error)
}

type instanceUpdateParams struct {
	ErrorMessage       *string
	ResourceID         *string
	Domain             *string
	GatewayTokenHash   *string
	GatewayTokenPrefix *string
}

type InstanceUpdateOption func(*instanceUpdateParams)

func WithErrorMessage(msg string) InstanceUpdateOption {
	return func(p *instanceUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResource(resourceID, domain string) InstanceUpdateOption {
	return func(p *instanceUpdateParams) {
		p.ResourceID = &resourceID
		p.Domain = &domain
	}
}

func WithResourceID(resourceID string) InstanceUpdateOption {
	return func(p *instanceUpdateParams) {
		p.ResourceID = &resourceID
	}
}

func WithGatewayToken(hash, prefix string) InstanceUpdateOption {
	return func(p *instanceUpdateParams) {
		p.GatewayTokenHash = &hash
		p.GatewayTokenPrefix = &prefix
	}
}

func applyOptions(opts []InstanceUpdateOption) *instanceUpdateParams {
	params := &instanceUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}
