package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moorlabs/driftsync/internal/models"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

// Register creates the device row, or refreshes name/type and last_seen_at if
// the device already registered. Device ids are client-generated, so retried
// registrations are routine.
func (r *PostgresDeviceRepository) Register(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (id, tenant_id, user_id, name, device_type, last_seen_at)
	          VALUES ($1, $2, $3, $4, $5, NOW())
	          ON CONFLICT (tenant_id, id)
	          DO UPDATE SET name = $4, device_type = $5, last_seen_at = NOW(), updated_at = NOW()
	          RETURNING created_at, revoked_at`

	err := r.pool.QueryRow(ctx, query,
		device.ID, device.TenantID, device.UserID, device.Name, device.DeviceType).Scan(&device.CreatedAt, &device.RevokedAt)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Device, error) {
	query := `SELECT id, tenant_id, user_id, name, device_type, last_seen_at, revoked_at, created_at, updated_at
	          FROM devices
	          WHERE tenant_id = $1 AND id = $2`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, tenantID, id).Scan(
		&device.ID,
		&device.TenantID,
		&device.UserID,
		&device.Name,
		&device.DeviceType,
		&device.LastSeenAt,
		&device.RevokedAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) Touch(ctx context.Context, tenantID, id string) error {
	query := `UPDATE devices SET last_seen_at = NOW() WHERE tenant_id = $1 AND id = $2`

	result, err := r.pool.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresDeviceRepository) Revoke(ctx context.Context, tenantID, id string) error {
	query := `UPDATE devices SET revoked_at = NOW() WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`

	result, err := r.pool.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
