// Package outbox is the client half of the sync core: a durable FIFO of
// locally produced mutations awaiting delivery to the server of record.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moorlabs/driftsync/internal/models"
)

// ErrNoSnapshot signals the referenced entity no longer exists locally. The
// event is still sent with whatever partial payload it carries; the server is
// authoritative on missing fields.
var ErrNoSnapshot = errors.New("no local snapshot for entity")

// Store persists outbox events. Pending returns events in insertion order,
// with failed events kept in their original position.
type Store interface {
	Insert(ctx context.Context, event *models.OutboxEvent) error
	Pending(ctx context.Context) ([]*models.OutboxEvent, error)
	MarkSynced(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id, lastError string) error
	Close() error
}

// Hydrator resolves a reference-carrying payload into a full snapshot of
// current local state just before transmission.
type Hydrator interface {
	Snapshot(ctx context.Context, entityType, entityID string) (map[string]interface{}, error)
}

type Queue struct {
	store    Store
	hydrator Hydrator
}

func NewQueue(store Store, hydrator Hydrator) *Queue {
	return &Queue{store: store, hydrator: hydrator}
}

// Enqueue records a local mutation. It touches only local storage and never
// blocks on the network.
func (q *Queue) Enqueue(ctx context.Context, entityType, entityID string, op models.ChangeOp, payload map[string]interface{}) (*models.OutboxEvent, error) {
	now := time.Now()
	event := &models.OutboxEvent{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    payload,
		OccurredAt: models.Timestamp(now),
		CreatedAt:  now,
		SyncStatus: models.StatusQueued,
	}
	if err := q.store.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}
	return event, nil
}

// Drain returns every queued or failed event in FIFO order. Failed events are
// retried in their original position, not pushed to the back.
func (q *Queue) Drain(ctx context.Context) ([]*models.OutboxEvent, error) {
	return q.store.Pending(ctx)
}

// Hydrate builds the wire event, refreshing the payload from current local
// state when a hydrator is configured. Edits made between enqueue and send
// are captured this way instead of shipping a stale snapshot.
func (q *Queue) Hydrate(ctx context.Context, event *models.OutboxEvent) (models.MutationEvent, error) {
	mutation := models.MutationEvent{
		EventID:    event.ID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Op:         event.Op,
		Data:       event.Payload,
		OccurredAt: event.OccurredAt,
	}

	if q.hydrator != nil && event.Op == models.OpUpsert {
		snapshot, err := q.hydrator.Snapshot(ctx, event.EntityType, event.EntityID)
		if errors.Is(err, ErrNoSnapshot) {
			return mutation, nil
		}
		if err != nil {
			return mutation, fmt.Errorf("failed to hydrate event %s: %w", event.ID, err)
		}
		mutation.Data = snapshot
	}
	return mutation, nil
}

func (q *Queue) MarkSynced(ctx context.Context, ids []string) error {
	return q.store.MarkSynced(ctx, ids)
}

func (q *Queue) MarkFailed(ctx context.Context, id, lastError string) error {
	return q.store.MarkFailed(ctx, id, lastError)
}
