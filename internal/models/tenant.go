package models

import "time"

// Tenant is an isolated project: its change log, checkpoints, idempotency
// markers and blob manifest share nothing with any other tenant.
type Tenant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	APIKeyHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
