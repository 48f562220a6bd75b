package models

import (
	"time"

	"github.com/google/uuid"
)

type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// TimestampLayout is the wire format for event timestamps. It is fixed-width
// UTC so that two timestamps compare correctly as plain strings, which is what
// last-write-wins relies on.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in the wire layout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ChangeLogEntry is one accepted mutation in a tenant's append-only log.
// Seq is assigned by the storage layer: strictly increasing, gapless, exactly
// once per accepted event. Entries are never rewritten; a delete appends a
// tombstone entry rather than removing anything.
type ChangeLogEntry struct {
	ID         uuid.UUID              `json:"id"`
	TenantID   string                 `json:"tenantId"`
	Seq        int64                  `json:"seq"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Op         ChangeOp               `json:"op"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt string                 `json:"occurredAt"`
}

// SyncRecord is the materialized projection of an entity within a tenant.
// Upserts shallow-merge into Value; deletes keep the last known Value and
// stamp DeletedAt, so the record stays queryable as a tombstone.
type SyncRecord struct {
	TenantID   string                 `json:"tenantId"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Value      map[string]interface{} `json:"value"`
	UpdatedAt  string                 `json:"updatedAt"`
	DeletedAt  *string                `json:"deletedAt,omitempty"`
}

// Deleted reports whether the record is a tombstone.
func (r *SyncRecord) Deleted() bool {
	return r.DeletedAt != nil
}

// MergeValue shallow-merges data into the record's value. Top-level fields in
// data replace or add to existing fields; nested objects are not merged.
func (r *SyncRecord) MergeValue(data map[string]interface{}) {
	if r.Value == nil {
		r.Value = make(map[string]interface{}, len(data))
	}
	for k, v := range data {
		r.Value[k] = v
	}
}
