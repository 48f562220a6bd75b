package models

import "time"

type SyncStatus string

const (
	StatusQueued SyncStatus = "queued"
	StatusSynced SyncStatus = "synced"
	StatusFailed SyncStatus = "failed"
)

// OutboxEvent is a locally produced mutation waiting for delivery. The
// payload may be a lightweight reference at enqueue time; it is hydrated to a
// full snapshot just before transmission so that later local edits are
// captured instead of a stale copy frozen at enqueue time.
type OutboxEvent struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Op         ChangeOp               `json:"op"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt string                 `json:"occurredAt"`
	CreatedAt  time.Time              `json:"createdAt"`
	SyncStatus SyncStatus             `json:"syncStatus"`
	LastError  string                 `json:"lastError,omitempty"`
}
