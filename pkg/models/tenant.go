// Package models contains shared data models used across the Kairo control plane.
package models

import "time"

// Tenant is an end user whose identity is issued by the external auth system.
// Every Integration and Instance belongs to a tenant and is removed with it.
type Tenant struct {
	ID        string    `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
