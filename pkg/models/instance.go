package models

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of a tenant's compute instance.
type InstanceStatus string

const (
	InstanceProvisioning InstanceStatus = "provisioning"
	InstanceRunning      InstanceStatus = "running"
	InstanceStopped      InstanceStatus = "stopped"
	InstanceError        InstanceStatus = "error"
	InstanceDeleted      InstanceStatus = "deleted"
)

// Live reports whether the instance blocks a new provisioning attempt.
func (s InstanceStatus) Live() bool {
	return s == InstanceProvisioning || s == InstanceRunning
}

// Instance is a tenant's provisioned compute resource. Only one non-deleted
// instance may exist per tenant. The gateway token itself is never stored;
// the instance presents it and it is checked against GatewayTokenHash.
type Instance struct {
	ID                 uuid.UUID      `db:"id"                   json:"id"`
	TenantID           string         `db:"tenant_id"            json:"tenant_id"`
	ResourceID         *string        `db:"resource_id"          json:"resource_id,omitempty"`
	Domain             *string        `db:"domain"               json:"domain,omitempty"`
	GatewayTokenHash   string         `db:"gateway_token_hash"   json:"-"`
	GatewayTokenPrefix string         `db:"gateway_token_prefix" json:"-"`
	Status             InstanceStatus `db:"status"               json:"status"`
	ErrorMessage       *string        `db:"error_message"        json:"error_message,omitempty"`
	CreatedAt          time.Time      `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"           json:"updated_at"`
}

// DomainOrEmpty returns the public domain, or "" when none has been allocated.
func (i *Instance) DomainOrEmpty() string {
	if i == nil || i.Domain == nil {
		return ""
	}
	return *i.Domain
}

var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceProvisioning: {InstanceRunning, InstanceError, InstanceDeleted},
	InstanceRunning:      {InstanceStopped, InstanceDeleted},
	InstanceStopped:      {InstanceProvisioning, InstanceError, InstanceDeleted},
	InstanceError:        {InstanceProvisioning, InstanceError, InstanceDeleted},
}

// CanTransition reports whether an instance may move from one status to another.
// Nothing leaves deleted.
func (s InstanceStatus) CanTransition(to InstanceStatus) bool {
	for _, allowed := range instanceTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
