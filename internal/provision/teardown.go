package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/kairo/internal/metrics"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

// DeleteInstance tears down the tenant's instance and marks it deleted. A backend
// failure is logged and does not stop the status change. Deleting an instance
// that is already deleted is a no-op. store.ErrNotFound means the tenant never
// had one.
func (o *Orchestrator) DeleteInstance(ctx context.Context, tenantID string) error {
	unlock, err := o.store.LockTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("lock tenant: %w", err)
	}
	defer unlock()

	inst, err := o.store.GetInstance(ctx, tenantID)
	if err != nil {
		return err
	}
	if inst.Status == models.InstanceDeleted {
		return nil
	}

	o.deleteService(ctx, inst, "api")

	if err := o.store.UpdateInstanceStatus(ctx, inst.ID, models.InstanceDeleted); err != nil {
		return fmt.Errorf("mark instance deleted: %w", err)
	}
	slog.Info("instance deleted", "tenant_id", tenantID, "instance_id", inst.ID)
	return nil
}

// OnTenantDeleted handles the identity provider removing a user: the backend
// service is torn down best-effort, then the tenant and everything it owns is
// removed. An unknown tenant is not an error, so redelivered events are harmless.
func (o *Orchestrator) OnTenantDeleted(ctx context.Context, tenantID string) error {
	inst, err := o.store.GetInstance(ctx, tenantID)
	switch {
	case err == nil:
		if inst.Status != models.InstanceDeleted {
			o.deleteService(ctx, inst, "webhook")
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("get instance: %w", err)
	}

	err = o.store.DeleteTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("tenant already removed", "tenant_id", tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	slog.Info("tenant removed", "tenant_id", tenantID)
	return nil
}

func (o *Orchestrator) deleteService(ctx context.Context, inst *models.Instance, source string) {
	if inst.ResourceID == nil || *inst.ResourceID == "" {
		return
	}
	if err := o.backend.DeleteService(ctx, *inst.ResourceID); err != nil {
		slog.Warn("backend teardown failed",
			"tenant_id", inst.TenantID,
			"resource_id", *inst.ResourceID,
			"error", err,
		)
		metrics.ObserveTeardown(source, "failure")
		return
	}
	metrics.ObserveTeardown(source, "success")
}
