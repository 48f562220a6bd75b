package repositories

import (
	"context"
	"fmt"
	"strconv"

	"github.com/moorlabs/driftsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const checkpointKeyFormat = "checkpoint:%s:%s:%s:%s"

type RedisCheckpointRepository struct {
	client *redis.Client
}

func NewRedisCheckpointRepository(client *redis.Client) *RedisCheckpointRepository {
	return &RedisCheckpointRepository{client: client}
}

func checkpointKey(key models.CheckpointKey) string {
	return fmt.Sprintf(checkpointKeyFormat, key.TenantID, key.UserID, key.DeviceID, key.Scope)
}

// Get returns the stored cursor for the key, or 0 when none exists yet.
// A checkpoint is created lazily; "missing" and "equals zero" are treated as
// the same state.
func (r *RedisCheckpointRepository) Get(ctx context.Context, key models.CheckpointKey) (int64, error) {
	val, err := r.client.Get(ctx, checkpointKey(key)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cursor, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint value %q: %w", val, err)
	}
	return cursor, nil
}

func (r *RedisCheckpointRepository) Set(ctx context.Context, key models.CheckpointKey, cursor int64) error {
	err := r.client.Set(ctx, checkpointKey(key), strconv.FormatInt(cursor, 10), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}
