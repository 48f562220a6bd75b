package models

import (
	"fmt"
	"time"
)

// MutationEvent is a single client-produced change inside a push batch.
type MutationEvent struct {
	EventID    string                 `json:"eventId"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Op         ChangeOp               `json:"op"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt string                 `json:"occurredAt,omitempty"`
}

// requiredFields lists payload fields checked per known entity type on upsert.
// Entity types not listed here are accepted as opaque upserts.
var requiredFields = map[string][]string{
	"progress": {"userId", "lessonId"},
	"attempt":  {"userId", "quizId"},
	"profile":  {"userId"},
	"note":     {"userId"},
}

// Validate checks the event shape at the boundary and fills in OccurredAt
// when the client did not stamp one.
func (e *MutationEvent) Validate(now time.Time) error {
	if e.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if e.EntityType == "" {
		return fmt.Errorf("entityType is required")
	}
	if e.EntityID == "" {
		return fmt.Errorf("entityId is required")
	}
	switch e.Op {
	case OpUpsert, OpDelete:
	default:
		return fmt.Errorf("op must be %q or %q", OpUpsert, OpDelete)
	}
	if e.OccurredAt == "" {
		e.OccurredAt = Timestamp(now)
	} else if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		return fmt.Errorf("occurredAt is not a valid RFC3339 timestamp: %w", err)
	}
	if e.Op == OpUpsert {
		for _, field := range requiredFields[e.EntityType] {
			if _, ok := e.Data[field]; !ok {
				return fmt.Errorf("%s events require data.%s", e.EntityType, field)
			}
		}
	}
	return nil
}
