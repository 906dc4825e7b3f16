package provision

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/kairo/pkg/models"
)

var (
	ErrAlreadyProvisioned  = errors.New("instance already provisioned")
	ErrMissingIntegration  = errors.New("integration missing")
	ErrProvisioningFailure = errors.New("provisioning failed")
	// ErrInvalidState means the instance's status does not allow the operation.
	ErrInvalidState = errors.New("instance state does not allow this operation")
)

// AlreadyProvisionedError is returned when the tenant already has a live instance.
// It carries that instance's domain.
type AlreadyProvisionedError struct {
	Domain string
	Status models.InstanceStatus
}

func (e *AlreadyProvisionedError) Error() string {
	return fmt.Sprintf("instance already %s", e.Status)
}

func (e *AlreadyProvisionedError) Is(target error) bool { return target == ErrAlreadyProvisioned }

// MissingIntegrationError names the provider that must be connected, or the
// metadata field that must be set on it, before provisioning.
type MissingIntegrationError struct {
	Provider models.ProviderType
	Field    string
}

func (e *MissingIntegrationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s integration is missing %s", e.Provider, e.Field)
	}
	return fmt.Sprintf("%s is not connected", e.Provider)
}

func (e *MissingIntegrationError) Is(target error) bool { return target == ErrMissingIntegration }
