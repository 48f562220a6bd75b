package repositories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	batchMarkerFormat = "idem:batch:%s:%s:%s"
	eventMarkerFormat = "idem:event:%s:%s"
)

// RedisIdempotencyRepository keeps the replay ledger as write-once keys with
// no expiry. Markers are partitioned by tenant in the key itself, so a lookup
// under the wrong tenant structurally misses.
type RedisIdempotencyRepository struct {
	client *redis.Client
}

func NewRedisIdempotencyRepository(client *redis.Client) *RedisIdempotencyRepository {
	return &RedisIdempotencyRepository{client: client}
}

func (r *RedisIdempotencyRepository) BatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) (bool, error) {
	n, err := r.client.Exists(ctx, fmt.Sprintf(batchMarkerFormat, tenantID, deviceID, batchID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check batch marker: %w", err)
	}
	return n > 0, nil
}

func (r *RedisIdempotencyRepository) MarkBatchProcessed(ctx context.Context, tenantID, deviceID, batchID string) error {
	err := r.client.SetNX(ctx, fmt.Sprintf(batchMarkerFormat, tenantID, deviceID, batchID), "1", 0).Err()
	if err != nil {
		return fmt.Errorf("failed to mark batch processed: %w", err)
	}
	return nil
}

// ClaimEvent is a SETNX: the boolean result is whether this call created the
// marker. Concurrent deliveries of the same event race here, and exactly one
// wins.
func (r *RedisIdempotencyRepository) ClaimEvent(ctx context.Context, tenantID, eventID string) (bool, error) {
	claimed, err := r.client.SetNX(ctx, fmt.Sprintf(eventMarkerFormat, tenantID, eventID), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event marker: %w", err)
	}
	return claimed, nil
}

func (r *RedisIdempotencyRepository) ReleaseEvent(ctx context.Context, tenantID, eventID string) error {
	if err := r.client.Del(ctx, fmt.Sprintf(eventMarkerFormat, tenantID, eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release event marker: %w", err)
	}
	return nil
}
