package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/kairo/pkg/models"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	instanceKey contextKey = "instance"
)

func SetTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func GetTenantID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(tenantIDKey).(string)
	return id, ok && id != ""
}

// SetInstance records the instance that authenticated with its gateway token.
func SetInstance(ctx context.Context, inst *models.Instance) context.Context {
	return context.WithValue(ctx, instanceKey, inst)
}

func GetInstance(r *http.Request) (*models.Instance, bool) {
	inst, ok := r.Context().Value(instanceKey).(*models.Instance)
	return inst, ok && inst != nil
}
