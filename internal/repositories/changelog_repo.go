package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moorlabs/driftsync/internal/models"
)

type PostgresChangeLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresChangeLogRepository(pool *pgxpool.Pool) *PostgresChangeLogRepository {
	return &PostgresChangeLogRepository{pool: pool}
}

// ApplyEvent appends one entry to the tenant's change log and folds the event
// into the sync_records projection, all in a single transaction. A per-tenant
// advisory lock serializes concurrent appends for the same tenant, so two
// concurrent calls can neither share a seq nor skip one. Appends for
// different tenants proceed in parallel.
func (r *PostgresChangeLogRepository) ApplyEvent(ctx context.Context, tenantID string, event models.MutationEvent) (*models.ChangeLogEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin apply transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}

	var lastSeq int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_log WHERE tenant_id = $1`, tenantID).Scan(&lastSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant watermark: %w", err)
	}

	record, err := getRecordTx(ctx, tx, tenantID, event.EntityType, event.EntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load sync record: %w", err)
	}
	if record == nil {
		record = &models.SyncRecord{
			TenantID:   tenantID,
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
		}
	}

	entryData := event.Data
	switch event.Op {
	case models.OpUpsert:
		record.MergeValue(event.Data)
		record.UpdatedAt = event.OccurredAt
		// An upsert after a delete recreates the entity.
		record.DeletedAt = nil
	case models.OpDelete:
		occurred := event.OccurredAt
		record.DeletedAt = &occurred
		record.UpdatedAt = event.OccurredAt
		// Tombstones keep the owning user from the prior state so per-user
		// visibility applies to deletes the same way it does to upserts.
		if owner, ok := record.Value["userId"].(string); ok && owner != "" {
			entryData = map[string]interface{}{"userId": owner}
		}
	default:
		return nil, fmt.Errorf("unknown op %q", event.Op)
	}

	valueJSON, err := json.Marshal(record.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record value: %w", err)
	}

	upsert := `INSERT INTO sync_records (tenant_id, entity_type, entity_id, value, updated_at, deleted_at)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           ON CONFLICT (tenant_id, entity_type, entity_id)
	           DO UPDATE SET value = $4, updated_at = $5, deleted_at = $6`
	if _, err := tx.Exec(ctx, upsert,
		tenantID, event.EntityType, event.EntityID, valueJSON, record.UpdatedAt, record.DeletedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert sync record: %w", err)
	}

	entry := &models.ChangeLogEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Seq:        lastSeq + 1,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Op:         event.Op,
		Data:       entryData,
		OccurredAt: event.OccurredAt,
	}

	var dataJSON []byte
	if entry.Data != nil {
		if dataJSON, err = json.Marshal(entry.Data); err != nil {
			return nil, fmt.Errorf("failed to marshal entry data: %w", err)
		}
	}

	insert := `INSERT INTO change_log (id, tenant_id, seq, entity_type, entity_id, op, data, occurred_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, insert,
		entry.ID, entry.TenantID, entry.Seq, entry.EntityType, entry.EntityID, string(entry.Op), dataJSON, entry.OccurredAt); err != nil {
		return nil, fmt.Errorf("failed to append change log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit apply transaction: %w", err)
	}
	return entry, nil
}

// PullSince returns entries with seq > sinceSeq in ascending order, at most
// limit of them. It is a plain read; no locks are taken.
func (r *PostgresChangeLogRepository) PullSince(ctx context.Context, tenantID string, sinceSeq int64, limit int) ([]*models.ChangeLogEntry, error) {
	query := `SELECT id, tenant_id, seq, entity_type, entity_id, op, data, occurred_at
	          FROM change_log
	          WHERE tenant_id = $1 AND seq > $2
	          ORDER BY seq ASC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, tenantID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var entries []*models.ChangeLogEntry
	for rows.Next() {
		var entry models.ChangeLogEntry
		var op string
		var dataJSON []byte
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Seq, &entry.EntityType, &entry.EntityID, &op, &dataJSON, &entry.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		entry.Op = models.ChangeOp(op)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry data: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}
	return entries, nil
}

func (r *PostgresChangeLogRepository) LastSeq(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM change_log WHERE tenant_id = $1`, tenantID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	return seq, nil
}

func (r *PostgresChangeLogRepository) GetRecord(ctx context.Context, tenantID, entityType, entityID string) (*models.SyncRecord, error) {
	return getRecordTx(ctx, r.pool, tenantID, entityType, entityID)
}

// querier covers both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRecordTx(ctx context.Context, q querier, tenantID, entityType, entityID string) (*models.SyncRecord, error) {
	query := `SELECT tenant_id, entity_type, entity_id, value, updated_at, deleted_at
	          FROM sync_records
	          WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`

	var record models.SyncRecord
	var valueJSON []byte
	err := q.QueryRow(ctx, query, tenantID, entityType, entityID).Scan(
		&record.TenantID,
		&record.EntityType,
		&record.EntityID,
		&valueJSON,
		&record.UpdatedAt,
		&record.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	if len(valueJSON) > 0 {
		if err := json.Unmarshal(valueJSON, &record.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record value: %w", err)
		}
	}
	return &record, nil
}
