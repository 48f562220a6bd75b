package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moorlabs/driftsync/internal/models"
)

// In-memory implementations of the repository interfaces. They honor the same
// contracts as the Postgres/Redis ones (per-tenant apply serialization,
// write-once markers, structural tenant partitioning) and back the service
// and reconciler tests.

type tenantLog struct {
	mu      sync.Mutex
	entries []*models.ChangeLogEntry
	records map[string]*models.SyncRecord // entityType/entityID
}

type MemoryChangeLogRepository struct {
	mu      sync.Mutex
	tenants map[string]*tenantLog
}

func NewMemoryChangeLogRepository() *MemoryChangeLogRepository {
	return &MemoryChangeLogRepository{tenants: make(map[string]*tenantLog)}
}

func (r *MemoryChangeLogRepository) tenant(tenantID string) *tenantLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		t = &tenantLog{records: make(map[string]*models.SyncRecord)}
		r.tenants[tenantID] = t
	}
	return t
}

func recordKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

func (r *MemoryChangeLogRepository) ApplyEvent(ctx context.Context, tenantID string, event models.MutationEvent) (*models.ChangeLogEntry, error) {
	t := r.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	key := recordKey(event.EntityType, event.EntityID)
	record, ok := t.records[key]
	if !ok {
		record = &models.SyncRecord{
			TenantID:   tenantID,
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
		}
		t.records[key] = record
	}

	entryData := event.Data
	switch event.Op {
	case models.OpUpsert:
		record.MergeValue(event.Data)
		record.UpdatedAt = event.OccurredAt
		record.DeletedAt = nil
	case models.OpDelete:
		occurred := event.OccurredAt
		record.DeletedAt = &occurred
		record.UpdatedAt = event.OccurredAt
		// Tombstones keep the owning user so visibility applies to deletes.
		if owner, ok := record.Value["userId"].(string); ok && owner != "" {
			entryData = map[string]interface{}{"userId": owner}
		}
	default:
		return nil, fmt.Errorf("unknown op %q", event.Op)
	}

	entry := &models.ChangeLogEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Seq:        int64(len(t.entries)) + 1,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Op:         event.Op,
		Data:       entryData,
		OccurredAt: event.OccurredAt,
	}
	t.entries = append(t.entries, entry)
	return entry, nil
}

func (r *MemoryChangeLogRepository) PullSince(ctx context.Context, tenantID string, sinceSeq int64, limit int) ([]*models.ChangeLogEntry, error) {
	t := r.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*models.ChangeLogEntry
	for _, entry := range t.entries {
		if entry.Seq <= sinceSeq {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryChangeLogRepository) LastSeq(ctx context.Context, tenantID string) (int64, error) {
	t := r.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.entries)), nil
}

func (r *MemoryChangeLogRepository) GetRecord(ctx context.Context, tenantID, entityType, entityID string) (*models.SyncRecord, error) {
	t := r.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[recordKey(entityType, entityID)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	if record.Value != nil {
		copied.Value = make(map[string]interface{}, len(record.Value))
		for k, v := range record.Value {
			copied.Value[k] = v
		}
	}
	return &copied, nil
}

type MemoryCheckpointRepository struct {
	mu      sync.Mutex
	cursors map[models.CheckpointKey]int64
}

func NewMemoryCheckpointRepository() *MemoryCheckpointRepository {
	return &MemoryCheckpointRepository{cursors: make(map[models.CheckpointKey]int64)}
}

func (r *MemoryCheckpointRepository) Get(ctx context.Context, key models.CheckpointKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[key], nil
}

func (r *MemoryCheckpointRepository) Set(ctx context.Context, key models.CheckpointKey, cursor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[key] = cursor
	return nil
}

type MemoryIdempotencyRepository struct {
	mu      sync.Mutex
	batches map[string]struct{}
	events  map[string]struct{}
}

func NewMemoryIdempotencyRepository() *MemoryIdempotencyRepository {
	return &MemoryIdempotencyRepository{
		batches: make(map[string]struct{}),
		events:  make(map[string]struct{}),
	}
}

func (r *MemoryIdempotencyRepository) BatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.batches[tenantID+"/"+deviceID+"/"+batchID]
	return ok, nil
}

func (r *MemoryIdempotencyRepository) MarkBatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[tenantID+"/"+deviceID+"/"+batchID] = struct{}{}
	return nil
}

// ClaimEvent is an atomic test-and-set under the repository mutex.
func (r *MemoryIdempotencyRepository) ClaimEvent(ctx context.Context, tenantID, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tenantID + "/" + eventID
	if _, ok := r.events[key]; ok {
		return false, nil
	}
	r.events[key] = struct{}{}
	return true, nil
}

func (r *MemoryIdempotencyRepository) ReleaseEvent(ctx context.Context, tenantID, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, tenantID+"/"+eventID)
	return nil
}

type MemoryTenantRepository struct {
	mu      sync.Mutex
	tenants map[string]*models.Tenant
}

func NewMemoryTenantRepository() *MemoryTenantRepository {
	return &MemoryTenantRepository{tenants: make(map[string]*models.Tenant)}
}

func (r *MemoryTenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant.ID]; ok {
		return fmt.Errorf("tenant %s already exists", tenant.ID)
	}
	tenant.CreatedAt = time.Now()
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *MemoryTenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[id]
	if !ok || tenant.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return tenant, nil
}

func (r *MemoryTenantRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[id]
	if !ok || tenant.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	tenant.DeletedAt = &now
	return nil
}

type MemoryDeviceRepository struct {
	mu      sync.Mutex
	devices map[string]*models.Device // tenantID/deviceID
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[string]*models.Device)}
}

func (r *MemoryDeviceRepository) Register(ctx context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	key := device.TenantID + "/" + device.ID
	if existing, ok := r.devices[key]; ok {
		existing.Name = device.Name
		existing.DeviceType = device.DeviceType
		existing.LastSeenAt = &now
		existing.UpdatedAt = &now
		device.CreatedAt = existing.CreatedAt
		device.RevokedAt = existing.RevokedAt
		return nil
	}
	device.CreatedAt = now
	device.LastSeenAt = &now
	r.devices[key] = device
	return nil
}

func (r *MemoryDeviceRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[tenantID+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return device, nil
}

func (r *MemoryDeviceRepository) Touch(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[tenantID+"/"+id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	device.LastSeenAt = &now
	return nil
}

func (r *MemoryDeviceRepository) Revoke(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[tenantID+"/"+id]
	if !ok || device.RevokedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	device.RevokedAt = &now
	return nil
}

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || time.Now().After(session.ExpiresAt) {
		return nil, ErrNotFound
	}
	return session, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

type MemoryBlobManifestRepository struct {
	mu        sync.Mutex
	manifests map[string]map[string]struct{}
}

func NewMemoryBlobManifestRepository() *MemoryBlobManifestRepository {
	return &MemoryBlobManifestRepository{manifests: make(map[string]map[string]struct{})}
}

func (r *MemoryBlobManifestRepository) Add(ctx context.Context, tenantID string, contentIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	manifest, ok := r.manifests[tenantID]
	if !ok {
		manifest = make(map[string]struct{})
		r.manifests[tenantID] = manifest
	}
	for _, id := range contentIDs {
		manifest[id] = struct{}{}
	}
	return nil
}

func (r *MemoryBlobManifestRepository) Missing(ctx context.Context, tenantID string, contentIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	manifest := r.manifests[tenantID]
	var missing []string
	for _, id := range contentIDs {
		if _, ok := manifest[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
