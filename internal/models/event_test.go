package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationEvent_ValidateFillsOccurredAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	event := MutationEvent{EventID: "e1", EntityType: "lesson", EntityID: "l1", Op: OpUpsert}

	require.NoError(t, event.Validate(now))
	assert.Equal(t, "2026-06-01T12:00:00.500Z", event.OccurredAt)
}

func TestMutationEvent_ValidateRequiredPayloadFields(t *testing.T) {
	now := time.Now()

	progress := MutationEvent{
		EventID: "e1", EntityType: "progress", EntityID: "p1", Op: OpUpsert,
		Data: map[string]interface{}{"userId": "u1"},
	}
	assert.Error(t, progress.Validate(now), "progress upserts need lessonId")

	progress.Data["lessonId"] = "l1"
	assert.NoError(t, progress.Validate(now))

	// Deletes skip payload checks; the tombstone needs no fields.
	del := MutationEvent{EventID: "e2", EntityType: "progress", EntityID: "p1", Op: OpDelete}
	assert.NoError(t, del.Validate(now))

	// Unknown entity types are opaque.
	opaque := MutationEvent{EventID: "e3", EntityType: "widget", EntityID: "w1", Op: OpUpsert}
	assert.NoError(t, opaque.Validate(now))
}

func TestTimestamp_ComparesLexicographically(t *testing.T) {
	earlier := Timestamp(time.Date(2026, 1, 2, 9, 59, 59, 999_000_000, time.UTC))
	later := Timestamp(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))

	assert.True(t, earlier < later)
	assert.Len(t, earlier, len(later), "fixed width keeps string order equal to time order")
}

func TestSyncRecord_MergeValue(t *testing.T) {
	record := &SyncRecord{}
	record.MergeValue(map[string]interface{}{"title": "Intro", "order": 1})
	record.MergeValue(map[string]interface{}{"title": "Intro v2"})

	assert.Equal(t, "Intro v2", record.Value["title"])
	assert.Equal(t, 1, record.Value["order"], "untouched fields survive a merge")
}
