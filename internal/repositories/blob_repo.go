package repositories

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const blobManifestFormat = "blob:%s:manifest"

type RedisBlobManifestRepository struct {
	client *redis.Client
}

func NewRedisBlobManifestRepository(client *redis.Client) *RedisBlobManifestRepository {
	return &RedisBlobManifestRepository{client: client}
}

func (r *RedisBlobManifestRepository) Add(ctx context.Context, tenantID string, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(contentIDs))
	for i, id := range contentIDs {
		members[i] = id
	}
	err := r.client.SAdd(ctx, fmt.Sprintf(blobManifestFormat, tenantID), members...).Err()
	if err != nil {
		return fmt.Errorf("failed to add to blob manifest: %w", err)
	}
	return nil
}

// Missing returns the subset of contentIDs not yet present in the tenant's
// manifest, preserving the request order.
func (r *RedisBlobManifestRepository) Missing(ctx context.Context, tenantID string, contentIDs []string) ([]string, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(contentIDs))
	for i, id := range contentIDs {
		members[i] = id
	}
	present, err := r.client.SMIsMember(ctx, fmt.Sprintf(blobManifestFormat, tenantID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check blob manifest: %w", err)
	}

	var missing []string
	for i, ok := range present {
		if !ok {
			missing = append(missing, contentIDs[i])
		}
	}
	return missing, nil
}
