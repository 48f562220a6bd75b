package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/notify"
	"github.com/moorlabs/driftsync/internal/repositories"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	service     *SyncService
	changeLog   repositories.ChangeLogRepository
	checkpoints *repositories.MemoryCheckpointRepository
	idempotency *repositories.MemoryIdempotencyRepository
	tenants     *repositories.MemoryTenantRepository
	devices     *repositories.MemoryDeviceRepository
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newSyncFixture(t *testing.T, opts ...SyncServiceOption) *syncFixture {
	t.Helper()
	f := &syncFixture{
		changeLog:   repositories.NewMemoryChangeLogRepository(),
		checkpoints: repositories.NewMemoryCheckpointRepository(),
		idempotency: repositories.NewMemoryIdempotencyRepository(),
		tenants:     repositories.NewMemoryTenantRepository(),
		devices:     repositories.NewMemoryDeviceRepository(),
	}
	require.NoError(t, f.tenants.Create(context.Background(), &models.Tenant{ID: "acme", Name: "Acme", APIKeyHash: "x"}))
	require.NoError(t, f.tenants.Create(context.Background(), &models.Tenant{ID: "globex", Name: "Globex", APIKeyHash: "x"}))
	f.service = NewSyncService(f.changeLog, f.checkpoints, f.idempotency, f.tenants, f.devices,
		notify.NopNotifier{}, testLogger(), opts...)
	return f
}

func adminCaller(tenantID string) models.Caller {
	return models.Caller{TenantID: tenantID, UserID: "user-1", DeviceID: "device-1", Role: models.RoleAdmin}
}

func upsertEvent(eventID, entityType, entityID string, data map[string]interface{}) models.MutationEvent {
	return models.MutationEvent{
		EventID:    eventID,
		EntityType: entityType,
		EntityID:   entityID,
		Op:         models.OpUpsert,
		Data:       data,
	}
}

func TestSyncService_PushAssignsContiguousSequence(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	resp, err := f.service.Push(ctx, adminCaller("acme"), models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", map[string]interface{}{"title": "Intro"}),
			upsertEvent("e2", "lesson", "l2", map[string]interface{}{"title": "Basics"}),
			upsertEvent("e3", "quiz", "q1", map[string]interface{}{"title": "Quiz"}),
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, []string{"e1", "e2", "e3"}, resp.Accepted)
	assert.Empty(t, resp.Rejected)
	assert.Equal(t, int64(3), resp.ServerWatermark)

	entries, err := f.changeLog.PullSince(ctx, "acme", 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq, "sequence must have no gaps")
	}
}

func TestSyncService_PushValidation(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	cases := []struct {
		name string
		req  models.PushRequest
	}{
		{"missing deviceId", models.PushRequest{BatchID: "b"}},
		{"missing batchId", models.PushRequest{DeviceID: "d"}},
		{"missing eventId", models.PushRequest{DeviceID: "d", BatchID: "b",
			Events: []models.MutationEvent{upsertEvent("", "lesson", "l1", nil)}}},
		{"unknown op", models.PushRequest{DeviceID: "d", BatchID: "b",
			Events: []models.MutationEvent{{EventID: "e", EntityType: "lesson", EntityID: "l1", Op: "merge"}}}},
		{"bad timestamp", models.PushRequest{DeviceID: "d", BatchID: "b",
			Events: []models.MutationEvent{{EventID: "e", EntityType: "lesson", EntityID: "l1",
				Op: models.OpUpsert, OccurredAt: "yesterday"}}}},
		{"progress without lessonId", models.PushRequest{DeviceID: "d", BatchID: "b",
			Events: []models.MutationEvent{upsertEvent("e", "progress", "p1",
				map[string]interface{}{"userId": "u1"})}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Push(ctx, caller, tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSyncService_PushRejectsOversizedBatch(t *testing.T) {
	f := newSyncFixture(t, WithMaxBatch(2))
	ctx := context.Background()

	_, err := f.service.Push(ctx, adminCaller("acme"), models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", nil),
			upsertEvent("e2", "lesson", "l2", nil),
			upsertEvent("e3", "lesson", "l3", nil),
		},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSyncService_PushUnknownTenant(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.service.Push(ctx, adminCaller("nope"), models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
	})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

// A retried batch whose acknowledgment was lost must not apply twice.
func TestSyncService_PushBatchReplay(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")
	req := models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", map[string]interface{}{"title": "Intro"}),
		},
	}

	first, err := f.service.Push(ctx, caller, req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := f.service.Push(ctx, caller, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Empty(t, second.Accepted)
	assert.Empty(t, second.Rejected)
	assert.Equal(t, first.ServerWatermark, second.ServerWatermark)

	watermark, err := f.service.Watermark(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), watermark, "replay must not append to the log")
}

// An event resent inside a different batch is rejected individually while its
// new siblings still apply.
func TestSyncService_PushEventReplayAcrossBatches(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events:   []models.MutationEvent{upsertEvent("e1", "lesson", "l1", nil)},
	})
	require.NoError(t, err)

	resp, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-2",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", nil),
			upsertEvent("e2", "lesson", "l2", nil),
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, []string{"e2"}, resp.Accepted)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "e1", resp.Rejected[0].EventID)
	assert.Equal(t, models.CodeIdempotentReplay, resp.Rejected[0].Code)

	watermark, err := f.service.Watermark(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), watermark)
}

// flakyChangeLog fails ApplyEvent for one entity id until cleared.
type flakyChangeLog struct {
	repositories.ChangeLogRepository
	mu       sync.Mutex
	failEnts map[string]bool
}

func (f *flakyChangeLog) ApplyEvent(ctx context.Context, tenantID string, event models.MutationEvent) (*models.ChangeLogEntry, error) {
	f.mu.Lock()
	fail := f.failEnts[event.EntityID]
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("storage unavailable")
	}
	return f.ChangeLogRepository.ApplyEvent(ctx, tenantID, event)
}

func (f *flakyChangeLog) clear(entityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failEnts, entityID)
}

// A batch with a storage failure leaves the batch marker unset so the retry
// re-applies only the failed event; the applied sibling stays guarded by its
// event marker.
func TestSyncService_PushPartialFailureRetry(t *testing.T) {
	f := newSyncFixture(t)
	flaky := &flakyChangeLog{
		ChangeLogRepository: f.changeLog,
		failEnts:            map[string]bool{"l2": true},
	}
	service := NewSyncService(flaky, f.checkpoints, f.idempotency, f.tenants, f.devices,
		notify.NopNotifier{}, testLogger())
	ctx := context.Background()
	caller := adminCaller("acme")
	req := models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", nil),
			upsertEvent("e2", "lesson", "l2", nil),
		},
	}

	first, err := service.Push(ctx, caller, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, first.Accepted)
	require.Len(t, first.Rejected, 1)
	assert.Equal(t, models.CodeInternalError, first.Rejected[0].Code)

	flaky.clear("l2")

	retry, err := service.Push(ctx, caller, req)
	require.NoError(t, err)
	assert.False(t, retry.Replayed, "batch marker must not be set after a partial failure")
	assert.Equal(t, []string{"e2"}, retry.Accepted)
	require.Len(t, retry.Rejected, 1)
	assert.Equal(t, "e1", retry.Rejected[0].EventID)
	assert.Equal(t, models.CodeIdempotentReplay, retry.Rejected[0].Code)

	watermark, err := service.Watermark(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), watermark, "no event may apply twice")

	// A third identical push is now a clean batch replay.
	third, err := service.Push(ctx, caller, req)
	require.NoError(t, err)
	assert.True(t, third.Replayed)
}

func TestSyncService_ConcurrentPushesKeepSequenceGapless(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := f.service.Push(ctx, caller, models.PushRequest{
					DeviceID: fmt.Sprintf("device-%d", w),
					BatchID:  fmt.Sprintf("batch-%d-%d", w, i),
					Events: []models.MutationEvent{
						upsertEvent(fmt.Sprintf("e-%d-%d", w, i), "lesson",
							fmt.Sprintf("l-%d-%d", w, i), nil),
					},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := f.changeLog.PullSince(ctx, "acme", 0, writers*perWriter+1)
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

func TestSyncService_DeleteWritesTombstone(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", map[string]interface{}{"title": "Intro"}),
			{EventID: "e2", EntityType: "lesson", EntityID: "l1", Op: models.OpDelete},
		},
	})
	require.NoError(t, err)

	record, err := f.changeLog.GetRecord(ctx, "acme", "lesson", "l1")
	require.NoError(t, err)
	assert.True(t, record.Deleted(), "delete must leave a tombstone, not remove the row")

	// The tombstone still travels to late pullers.
	resp, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scopes, 1)
	require.Len(t, resp.Scopes[0].Changes, 2)
	assert.Equal(t, models.OpDelete, resp.Scopes[0].Changes[1].Op)

	// Recreating the entity clears the tombstone.
	_, err = f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-2",
		Events:   []models.MutationEvent{upsertEvent("e3", "lesson", "l1", map[string]interface{}{"title": "Redo"})},
	})
	require.NoError(t, err)

	record, err = f.changeLog.GetRecord(ctx, "acme", "lesson", "l1")
	require.NoError(t, err)
	assert.False(t, record.Deleted())
}

func TestSyncService_PullAdvancesCheckpointPerDevice(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", nil),
			upsertEvent("e2", "lesson", "l2", nil),
		},
	})
	require.NoError(t, err)

	first, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Len(t, first.Scopes[0].Changes, 2)
	assert.Equal(t, int64(2), first.NextCheckpoints[ScopeContent])

	// Same device sees nothing new.
	again, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Empty(t, again.Scopes[0].Changes)

	// A different device starts from zero.
	other := caller
	other.DeviceID = "device-2"
	fresh, err := f.service.Pull(ctx, other, models.PullRequest{
		DeviceID: "device-2",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Len(t, fresh.Scopes[0].Changes, 2)
}

// An explicit cursor in the request overrides the stored checkpoint, which is
// how a client re-pulls from scratch.
func TestSyncService_PullExplicitCursorOverride(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events:   []models.MutationEvent{upsertEvent("e1", "lesson", "l1", nil)},
	})
	require.NoError(t, err)

	_, err = f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)

	reset, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID:    "device-1",
		Scopes:      []string{ScopeContent},
		Checkpoints: map[string]int64{ScopeContent: 0},
	})
	require.NoError(t, err)
	assert.Len(t, reset.Scopes[0].Changes, 1, "cursor 0 must replay the full log")
}

func TestSyncService_PullScopeRouting(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")

	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "lesson", "l1", nil),
			upsertEvent("e2", "profile", "u1", map[string]interface{}{"userId": "user-1"}),
			upsertEvent("e3", "progress", "p1", map[string]interface{}{"userId": "user-1", "lessonId": "l1"}),
			upsertEvent("e4", "widget", "w1", nil), // unknown type rides in content
		},
	})
	require.NoError(t, err)

	resp, err := f.service.Pull(ctx, caller, models.PullRequest{DeviceID: "device-1"})
	require.NoError(t, err)

	byScope := make(map[string][]string)
	for _, sc := range resp.Scopes {
		for _, change := range sc.Changes {
			byScope[sc.Scope] = append(byScope[sc.Scope], change.EntityType)
		}
	}
	assert.Equal(t, []string{"lesson", "widget"}, byScope[ScopeContent])
	assert.Equal(t, []string{"profile"}, byScope[ScopeProfile])
	assert.Equal(t, []string{"progress"}, byScope[ScopeProgress])
}

func TestSyncService_PullUnknownScope(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.service.Pull(ctx, adminCaller("acme"), models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{"payments"},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

// Students see shared content plus their own user-owned entries; the cursor
// still advances past entries they were never owed.
func TestSyncService_PullStudentVisibility(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	teacher := models.Caller{TenantID: "acme", UserID: "teacher-1", DeviceID: "device-t", Role: models.RoleTeacher}

	_, err := f.service.Push(ctx, teacher, models.PushRequest{
		DeviceID: "device-t",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "progress", "p1", map[string]interface{}{"userId": "student-1", "lessonId": "l1"}),
			upsertEvent("e2", "progress", "p2", map[string]interface{}{"userId": "student-2", "lessonId": "l1"}),
			upsertEvent("e3", "progress", "p3", map[string]interface{}{"userId": "student-1", "lessonId": "l2"}),
		},
	})
	require.NoError(t, err)

	student := models.Caller{TenantID: "acme", UserID: "student-1", DeviceID: "device-s", Role: models.RoleStudent}
	resp, err := f.service.Pull(ctx, student, models.PullRequest{
		DeviceID: "device-s",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scopes[0].Changes, 2)
	for _, change := range resp.Scopes[0].Changes {
		assert.Equal(t, "student-1", change.Data["userId"])
	}
	assert.Equal(t, int64(3), resp.NextCheckpoints[ScopeProgress],
		"cursor advances over delivered entries, durably skipping invisible ones")

	// The teacher's own pull still sees everything.
	all, err := f.service.Pull(ctx, teacher, models.PullRequest{
		DeviceID: "device-t",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	assert.Len(t, all.Scopes[0].Changes, 3)
}

// Deleting a user-owned record must reach the owning student's other
// devices: the tombstone carries the owner forward even though the delete
// event itself has no payload.
func TestSyncService_PullDeliversOwnTombstone(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	teacher := models.Caller{TenantID: "acme", UserID: "teacher-1", DeviceID: "device-t", Role: models.RoleTeacher}

	_, err := f.service.Push(ctx, teacher, models.PushRequest{
		DeviceID: "device-t",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "progress", "p1", map[string]interface{}{"userId": "student-1", "lessonId": "l1"}),
			{EventID: "e2", EntityType: "progress", EntityID: "p1", Op: models.OpDelete},
		},
	})
	require.NoError(t, err)

	student := models.Caller{TenantID: "acme", UserID: "student-1", DeviceID: "device-s", Role: models.RoleStudent}
	resp, err := f.service.Pull(ctx, student, models.PullRequest{
		DeviceID: "device-s",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scopes[0].Changes, 2)
	tombstone := resp.Scopes[0].Changes[1]
	assert.Equal(t, models.OpDelete, tombstone.Op)
	assert.Equal(t, "student-1", tombstone.Data["userId"])
	assert.Equal(t, int64(2), resp.NextCheckpoints[ScopeProgress])

	// Another student sees neither the record nor its tombstone.
	other := models.Caller{TenantID: "acme", UserID: "student-2", DeviceID: "device-o", Role: models.RoleStudent}
	hidden, err := f.service.Pull(ctx, other, models.PullRequest{
		DeviceID: "device-o",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	assert.Empty(t, hidden.Scopes[0].Changes)
}

// A caller who sees none of the new entries keeps its prior cursor value.
func TestSyncService_PullAllFilteredKeepsCursor(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	teacher := models.Caller{TenantID: "acme", UserID: "teacher-1", DeviceID: "device-t", Role: models.RoleTeacher}
	student := models.Caller{TenantID: "acme", UserID: "student-1", DeviceID: "device-s", Role: models.RoleStudent}

	_, err := f.service.Push(ctx, teacher, models.PushRequest{
		DeviceID: "device-t",
		BatchID:  "batch-1",
		Events: []models.MutationEvent{
			upsertEvent("e1", "progress", "p1", map[string]interface{}{"userId": "student-2", "lessonId": "l1"}),
			upsertEvent("e2", "progress", "p2", map[string]interface{}{"userId": "student-2", "lessonId": "l2"}),
		},
	})
	require.NoError(t, err)

	resp, err := f.service.Pull(ctx, student, models.PullRequest{
		DeviceID: "device-s",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Scopes[0].Changes)
	assert.Equal(t, int64(0), resp.NextCheckpoints[ScopeProgress],
		"an all-filtered window must not advance the cursor")

	// The next entry the student does own comes through and the cursor
	// moves over everything delivered.
	_, err = f.service.Push(ctx, teacher, models.PushRequest{
		DeviceID: "device-t",
		BatchID:  "batch-2",
		Events: []models.MutationEvent{
			upsertEvent("e3", "progress", "p3", map[string]interface{}{"userId": "student-1", "lessonId": "l1"}),
		},
	})
	require.NoError(t, err)

	resp, err = f.service.Pull(ctx, student, models.PullRequest{
		DeviceID: "device-s",
		Scopes:   []string{ScopeProgress},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scopes[0].Changes, 1)
	assert.Equal(t, int64(3), resp.NextCheckpoints[ScopeProgress])
}

// Two concurrent deliveries of the same batch (an at-least-once transport
// duplicating an in-flight push) must apply each event exactly once.
func TestSyncService_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	caller := adminCaller("acme")
	req := models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events:   []models.MutationEvent{upsertEvent("e1", "lesson", "l1", nil)},
	}

	responses := make([]*models.PushResponse, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.service.Push(ctx, caller, req)
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, resp := range responses {
		accepted += len(resp.Accepted)
		for _, rejected := range resp.Rejected {
			assert.Equal(t, models.CodeIdempotentReplay, rejected.Code)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one delivery may win the event claim")

	entries, err := f.changeLog.PullSince(ctx, "acme", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "duplicate deliveries must not duplicate log entries")
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestSyncService_TenantIsolation(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.service.Push(ctx, adminCaller("acme"), models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events:   []models.MutationEvent{upsertEvent("e1", "lesson", "l1", map[string]interface{}{"title": "Acme only"})},
	})
	require.NoError(t, err)

	resp, err := f.service.Pull(ctx, adminCaller("globex"), models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Scopes[0].Changes)

	watermark, err := f.service.Watermark(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, int64(0), watermark)

	// Each tenant's sequence starts at 1 regardless of the other's traffic.
	_, err = f.service.Push(ctx, adminCaller("globex"), models.PushRequest{
		DeviceID: "device-1",
		BatchID:  "batch-1",
		Events:   []models.MutationEvent{upsertEvent("e1", "lesson", "l1", nil)},
	})
	require.NoError(t, err)
	entries, err := f.changeLog.PullSince(ctx, "globex", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestSyncService_PullLimitClamped(t *testing.T) {
	f := newSyncFixture(t, WithPullLimit(2))
	ctx := context.Background()
	caller := adminCaller("acme")

	events := make([]models.MutationEvent, 5)
	for i := range events {
		events[i] = upsertEvent(fmt.Sprintf("e%d", i), "lesson", fmt.Sprintf("l%d", i), nil)
	}
	_, err := f.service.Push(ctx, caller, models.PushRequest{
		DeviceID: "device-1", BatchID: "batch-1", Events: events,
	})
	require.NoError(t, err)

	resp, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Scopes[0].Changes, 2)
	assert.Equal(t, int64(2), resp.NextCheckpoints[ScopeContent])

	next, err := f.service.Pull(ctx, caller, models.PullRequest{
		DeviceID: "device-1",
		Scopes:   []string{ScopeContent},
	})
	require.NoError(t, err)
	assert.Len(t, next.Scopes[0].Changes, 2)
	assert.Equal(t, int64(4), next.NextCheckpoints[ScopeContent])
}
