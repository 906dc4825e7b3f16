// Package provision drives a tenant's instance through its lifecycle on the
// provisioning backend: create, confirm, tear down.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kairo/internal/integration"
	"github.com/kiranshivaraju/kairo/internal/metrics"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// GatewayPrefixLen is how many leading characters of a gateway token are stored
// in clear for lookup.
const GatewayPrefixLen = 8

// DefaultTimeout bounds one provisioning attempt. It stays below the server's
// write timeout so the outcome is recorded and reported.
const DefaultTimeout = 75 * time.Second

// recordTimeout bounds the store writes that record an attempt's outcome; they
// run even after the attempt's own deadline has passed.
const recordTimeout = 5 * time.Second

// Backend is the provisioning backend.
type Backend interface {
	CreateService(ctx context.Context, name string) (string, error)
	UpsertVariables(ctx context.Context, serviceID string, vars map[string]string) error
	CreateDomain(ctx context.Context, serviceID string, port int) (string, error)
	DeleteService(ctx context.Context, serviceID string) error
}

// Integrations reads the tenant's linked accounts.
type Integrations interface {
	List(ctx context.Context, tenantID string) ([]*models.Integration, error)
	Fresh(ctx context.Context, tenantID string, typ models.ProviderType) (*integration.Entry, error)
}

// Orchestrator provisions and tears down tenant instances.
type Orchestrator struct {
	store        store.Store
	integrations Integrations
	backend      Backend
	settings     Settings

	// Now is the clock used for instance timestamps. Defaults to time.Now.
	Now func() time.Time
	// NewGatewayToken generates the instance's callback token.
	NewGatewayToken func() (string, error)
	// Timeout bounds a whole Provision call. Zero means no bound.
	Timeout time.Duration
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(s store.Store, integrations Integrations, backend Backend, settings Settings) *Orchestrator {
	return &Orchestrator{
		store:           s,
		integrations:    integrations,
		backend:         backend,
		settings:        settings,
		Now:             time.Now,
		NewGatewayToken: generateGatewayToken,
		Timeout:         DefaultTimeout,
	}
}

func generateGatewayToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate gateway token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Provision creates the tenant's instance. It returns *AlreadyProvisionedError
// when a live instance exists and *MissingIntegrationError when a required
// integration or its metadata is absent; neither touches the backend. Any
// failure after that is recorded on the instance (status error) and returned
// wrapping ErrProvisioningFailure.
func (o *Orchestrator) Provision(ctx context.Context, tenantID string) (inst *models.Instance, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveProvision(provisionResult(err), time.Since(start))
	}()

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	unlock, err := o.store.LockTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("lock tenant: %w", err)
	}
	defer unlock()

	existing, err := o.store.GetInstance(ctx, tenantID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if existing != nil && existing.Status.Live() {
		return nil, &AlreadyProvisionedError{Domain: existing.DomainOrEmpty(), Status: existing.Status}
	}

	if err := o.checkPrerequisites(ctx, tenantID); err != nil {
		return nil, err
	}

	token, err := o.NewGatewayToken()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash gateway token: %w", err)
	}
	prefix := token[:GatewayPrefixLen]

	serviceID, domain, err := o.deploy(ctx, tenantID, token, existing)

	recCtx, cancelRec := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRec()

	if err != nil {
		slog.Error("provisioning failed", "tenant_id", tenantID, "error", err)
		if recErr := o.recordFailure(recCtx, tenantID, existing, string(hash), prefix, serviceID, err); recErr != nil {
			slog.Error("recording provisioning failure", "tenant_id", tenantID, "error", recErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrProvisioningFailure, err)
	}

	inst, err = o.recordProvisioning(recCtx, tenantID, existing, string(hash), prefix, serviceID, domain)
	if err != nil {
		return nil, err
	}
	slog.Info("instance provisioned", "tenant_id", tenantID, "instance_id", inst.ID, "domain", domain)
	return inst, nil
}

// checkPrerequisites requires all three integrations plus the metadata the
// instance environment is built from.
func (o *Orchestrator) checkPrerequisites(ctx context.Context, tenantID string) error {
	list, err := o.integrations.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}
	byType := make(map[models.ProviderType]*models.Integration, len(list))
	for _, in := range list {
		byType[in.Type] = in
	}

	for _, p := range models.RequiredProviders {
		if _, ok := byType[p]; !ok {
			return &MissingIntegrationError{Provider: p}
		}
	}

	jira := byType[models.ProviderJira].Metadata
	if jira[models.MetaAuthMode] == models.AuthModeOAuth {
		if jira[models.MetaCloudID] == "" {
			return &MissingIntegrationError{Provider: models.ProviderJira, Field: models.MetaCloudID}
		}
	}
	if jira[models.MetaSiteURL] == "" {
		return &MissingIntegrationError{Provider: models.ProviderJira, Field: models.MetaSiteURL}
	}
	if jira[models.MetaProjectKey] == "" {
		return &MissingIntegrationError{Provider: models.ProviderJira, Field: models.MetaProjectKey}
	}

	gh := byType[models.ProviderGitHub].Metadata
	if gh[models.MetaOwner] == "" || gh[models.MetaRepo] == "" {
		return &MissingIntegrationError{Provider: models.ProviderGitHub, Field: "repository"}
	}
	return nil
}

// deploy runs the backend steps in order. serviceID is returned even on a later
// failure so it can be recorded. A service or domain left behind by an earlier
// failed attempt is reused rather than created again.
func (o *Orchestrator) deploy(ctx context.Context, tenantID, gatewayToken string, existing *models.Instance) (serviceID, domain string, err error) {
	in := EnvInput{GatewayToken: gatewayToken, Settings: o.settings}
	if in.Slack, err = o.integrations.Fresh(ctx, tenantID, models.ProviderSlack); err != nil {
		return "", "", err
	}
	if in.Jira, err = o.integrations.Fresh(ctx, tenantID, models.ProviderJira); err != nil {
		return "", "", err
	}
	if in.GitHub, err = o.integrations.Fresh(ctx, tenantID, models.ProviderGitHub); err != nil {
		return "", "", err
	}

	env, err := AssembleEnv(in)
	if err != nil {
		return "", "", err
	}

	serviceID, domain = leftoverResource(existing)
	if serviceID != "" {
		slog.Info("reusing service from failed attempt", "tenant_id", tenantID, "service_id", serviceID)
	} else {
		serviceID, err = o.backend.CreateService(ctx, ResourceName(tenantID))
		if err != nil {
			return "", "", err
		}
	}
	if err := o.backend.UpsertVariables(ctx, serviceID, env); err != nil {
		return serviceID, "", err
	}
	if domain == "" {
		domain, err = o.backend.CreateDomain(ctx, serviceID, o.settings.Port)
		if err != nil {
			return serviceID, "", err
		}
	}
	return serviceID, domain, nil
}

// leftoverResource returns the backend service (and domain, if one was
// allocated) still attached to a non-deleted instance.
func leftoverResource(existing *models.Instance) (serviceID, domain string) {
	if existing == nil || existing.Status == models.InstanceDeleted || existing.ResourceID == nil || *existing.ResourceID == "" {
		return "", ""
	}
	return *existing.ResourceID, existing.DomainOrEmpty()
}

func (o *Orchestrator) recordProvisioning(ctx context.Context, tenantID string, existing *models.Instance, hash, prefix, serviceID, domain string) (*models.Instance, error) {
	if existing == nil || existing.Status == models.InstanceDeleted {
		now := o.Now().UTC()
		inst := &models.Instance{
			ID:                 uuid.New(),
			TenantID:           tenantID,
			ResourceID:         &serviceID,
			Domain:             &domain,
			GatewayTokenHash:   hash,
			GatewayTokenPrefix: prefix,
			Status:             models.InstanceProvisioning,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := o.store.CreateInstance(ctx, inst); err != nil {
			return nil, fmt.Errorf("create instance: %w", err)
		}
		return inst, nil
	}

	err := o.store.UpdateInstanceStatus(ctx, existing.ID, models.InstanceProvisioning,
		store.WithResource(serviceID, domain), store.WithGatewayToken(hash, prefix))
	if err != nil {
		return nil, fmt.Errorf("update instance: %w", err)
	}
	return o.store.GetInstance(ctx, tenantID)
}

func (o *Orchestrator) recordFailure(ctx context.Context, tenantID string, existing *models.Instance, hash, prefix, serviceID string, cause error) error {
	msg := cause.Error()

	if existing == nil || existing.Status == models.InstanceDeleted {
		now := o.Now().UTC()
		inst := &models.Instance{
			ID:                 uuid.New(),
			TenantID:           tenantID,
			GatewayTokenHash:   hash,
			GatewayTokenPrefix: prefix,
			Status:             models.InstanceError,
			ErrorMessage:       &msg,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if serviceID != "" {
			inst.ResourceID = &serviceID
		}
		return o.store.CreateInstance(ctx, inst)
	}

	opts := []store.InstanceUpdateOption{store.WithErrorMessage(msg), store.WithGatewayToken(hash, prefix)}
	if serviceID != "" {
		opts = append(opts, store.WithResourceID(serviceID))
	}
	return o.store.UpdateInstanceStatus(ctx, existing.ID, models.InstanceError, opts...)
}

// ConfirmRunning marks a provisioning instance as running. Confirming a running
// instance again succeeds without change.
func (o *Orchestrator) ConfirmRunning(ctx context.Context, tenantID string) (*models.Instance, error) {
	inst, err := o.store.GetInstance(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch inst.Status {
	case models.InstanceRunning:
		return inst, nil
	case models.InstanceProvisioning:
		if err := o.store.UpdateInstanceStatus(ctx, inst.ID, models.InstanceRunning); err != nil {
			return nil, fmt.Errorf("confirm running: %w", err)
		}
		slog.Info("instance running", "tenant_id", tenantID, "instance_id", inst.ID)
		return o.store.GetInstance(ctx, tenantID)
	default:
		return nil, fmt.Errorf("%w: instance is %s", ErrInvalidState, inst.Status)
	}
}

// Status returns the tenant's current instance.
func (o *Orchestrator) Status(ctx context.Context, tenantID string) (*models.Instance, error) {
	return o.store.GetInstance(ctx, tenantID)
}

func provisionResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAlreadyProvisioned):
		return "already_provisioned"
	case errors.Is(err, ErrMissingIntegration):
		return "missing_integration"
	default:
		return "failure"
	}
}
