package repositories

import (
	"context"
	"errors"

	"github.com/moorlabs/driftsync/internal/models"
)

var ErrNotFound = errors.New("not found")

// ChangeLogRepository owns a tenant's append-only change log together with
// the materialized sync_records projection. ApplyEvent is the atomic
// append-and-return-seq primitive: the sequence invariant (strictly
// increasing, gapless, exactly once per accepted event) is enforced here, not
// by caller discipline.
type ChangeLogRepository interface {
	ApplyEvent(ctx context.Context, tenantID string, event models.MutationEvent) (*models.ChangeLogEntry, error)
	PullSince(ctx context.Context, tenantID string, sinceSeq int64, limit int) ([]*models.ChangeLogEntry, error)
	LastSeq(ctx context.Context, tenantID string) (int64, error)
	GetRecord(ctx context.Context, tenantID, entityType, entityID string) (*models.SyncRecord, error)
}

// CheckpointRepository stores per (tenant, user, device, scope) cursors.
// A missing checkpoint reads as 0.
type CheckpointRepository interface {
	Get(ctx context.Context, key models.CheckpointKey) (int64, error)
	Set(ctx context.Context, key models.CheckpointKey, cursor int64) error
}

// IdempotencyRepository is the write-once replay ledger. ClaimEvent is an
// atomic test-and-set: exactly one of any number of concurrent claimants for
// an event id gets true. A claim is released only when the claimed apply
// failed; successful claims are permanent.
type IdempotencyRepository interface {
	BatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) (bool, error)
	MarkBatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) error
	ClaimEvent(ctx context.Context, tenantID, eventID string) (bool, error)
	ReleaseEvent(ctx context.Context, tenantID, eventID string) error
}

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	Delete(ctx context.Context, id string) error
}

type DeviceRepository interface {
	Register(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Device, error)
	Touch(ctx context.Context, tenantID, id string) error
	Revoke(ctx context.Context, tenantID, id string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// BlobManifestRepository tracks which content blobs a tenant already holds
// server-side. Only the need-list contract lives here; transfer is elsewhere.
type BlobManifestRepository interface {
	Add(ctx context.Context, tenantID string, contentIDs []string) error
	Missing(ctx context.Context, tenantID string, contentIDs []string) ([]string, error)
}
