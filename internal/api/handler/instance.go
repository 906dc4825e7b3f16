package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/kairo/internal/api/response"
	"github.com/kiranshivaraju/kairo/internal/store"
	"github.com/kiranshivaraju/kairo/pkg/models"
)

func writeNoInstance(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "No instance found", nil)
}

// NewProvisionHandler returns an http.HandlerFunc for POST /provision.
// The response returns as soon as the backend accepted the deploy; readiness
// is confirmed later through POST /instance/status.
func NewProvisionHandler(instances Instances) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		inst, err := instances.Provision(r.Context(), tenantID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		serviceID := ""
		if inst.ResourceID != nil {
			serviceID = *inst.ResourceID
		}
		response.JSON(w, map[string]any{
			"ok":        true,
			"domain":    inst.DomainOrEmpty(),
			"serviceId": serviceID,
			"status":    inst.Status,
		})
	}
}

// NewInstanceStatusHandler returns an http.HandlerFunc for GET /instance/status.
func NewInstanceStatusHandler(instances Instances) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		inst, err := instances.Status(r.Context(), tenantID)
		if errors.Is(err, store.ErrNotFound) {
			writeNoInstance(w)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		var errMsg *string
		if inst.Status == models.InstanceError {
			errMsg = inst.ErrorMessage
		}
		response.JSON(w, map[string]any{
			"status":       inst.Status,
			"domain":       inst.Domain,
			"errorMessage": errMsg,
		})
	}
}

// NewConfirmRunningHandler returns an http.HandlerFunc for POST /instance/status.
// The client calls it once the instance's health endpoint answers.
func NewConfirmRunningHandler(instances Instances) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		_, err := instances.ConfirmRunning(r.Context(), tenantID)
		if errors.Is(err, store.ErrNotFound) {
			writeNoInstance(w)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w)
	}
}

// NewDeleteInstanceHandler returns an http.HandlerFunc for POST /instance/delete.
func NewDeleteInstanceHandler(instances Instances) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrUnauthorized(w, r)
		if !ok {
			return
		}

		err := instances.DeleteInstance(r.Context(), tenantID)
		if errors.Is(err, store.ErrNotFound) {
			writeNoInstance(w)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		slog.Info("instance deleted by tenant", "tenant_id", tenantID)
		response.OK(w)
	}
}
