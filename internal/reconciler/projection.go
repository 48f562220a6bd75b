package reconciler

import (
	"context"
	"sync"

	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/outbox"
)

// Projection is the device-local read-through cache of the server's change
// log. It is never a second source of truth: anything here can be rebuilt by
// re-pulling from cursor zero.
type Projection struct {
	mu      sync.Mutex
	records map[string]*models.SyncRecord
}

func NewProjection() *Projection {
	return &Projection{records: make(map[string]*models.SyncRecord)}
}

func key(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// Apply folds a pulled entry into the cache, last-write-wins by timestamp
// string comparison. A pulled entity lands only if its timestamp is newer
// than the local copy, or no local copy exists. Returns whether the entry
// was applied.
func (p *Projection) Apply(entry *models.ChangeLogEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(entry.EntityType, entry.EntityID)
	record, ok := p.records[k]
	if ok && record.UpdatedAt > entry.OccurredAt {
		return false
	}
	if !ok {
		record = &models.SyncRecord{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
		}
		p.records[k] = record
	}

	switch entry.Op {
	case models.OpUpsert:
		record.MergeValue(entry.Data)
		record.UpdatedAt = entry.OccurredAt
		record.DeletedAt = nil
	case models.OpDelete:
		occurred := entry.OccurredAt
		record.DeletedAt = &occurred
		// A delete is a write: advancing UpdatedAt keeps a stale upsert
		// that arrives later from resurrecting the entity.
		record.UpdatedAt = entry.OccurredAt
	}
	return true
}

// Put records a local mutation so hydration sees the freshest state.
func (p *Projection) Put(entityType, entityID string, value map[string]interface{}, updatedAt string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(entityType, entityID)
	record, ok := p.records[k]
	if !ok {
		record = &models.SyncRecord{EntityType: entityType, EntityID: entityID}
		p.records[k] = record
	}
	record.MergeValue(value)
	record.UpdatedAt = updatedAt
	record.DeletedAt = nil
}

func (p *Projection) Get(entityType, entityID string) (*models.SyncRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.records[key(entityType, entityID)]
	if !ok {
		return nil, false
	}
	copied := *record
	if record.Value != nil {
		copied.Value = make(map[string]interface{}, len(record.Value))
		for k, v := range record.Value {
			copied.Value[k] = v
		}
	}
	return &copied, true
}

// Delete removes the local copy, e.g. after a local delete mutation.
func (p *Projection) Delete(entityType, entityID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, key(entityType, entityID))
}

// Snapshot implements outbox.Hydrator: the current local value for an entity,
// read just before transmission.
func (p *Projection) Snapshot(ctx context.Context, entityType, entityID string) (map[string]interface{}, error) {
	record, ok := p.Get(entityType, entityID)
	if !ok || record.Value == nil {
		return nil, outbox.ErrNoSnapshot
	}
	return record.Value, nil
}
