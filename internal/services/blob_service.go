package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/moorlabs/driftsync/internal/repositories"
)

// BlobService answers the need-list question: of these content identifiers,
// which does the server not have yet? The transfer itself happens outside
// this core.
type BlobService struct {
	manifests repositories.BlobManifestRepository
	tenants   repositories.TenantRepository
}

func NewBlobService(manifests repositories.BlobManifestRepository, tenants repositories.TenantRepository) *BlobService {
	return &BlobService{manifests: manifests, tenants: tenants}
}

func (s *BlobService) NeedList(ctx context.Context, tenantID string, contentIDs []string) ([]string, error) {
	if _, err := s.tenants.GetByID(ctx, tenantID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}
	for _, id := range contentIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty content id", ErrValidation)
		}
	}
	return s.manifests.Missing(ctx, tenantID, contentIDs)
}

// MarkPresent records blobs as held server-side, typically called by the
// transfer collaborator once an upload completes.
func (s *BlobService) MarkPresent(ctx context.Context, tenantID string, contentIDs []string) error {
	if _, err := s.tenants.GetByID(ctx, tenantID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrTenantNotFound
		}
		return fmt.Errorf("failed to check tenant: %w", err)
	}
	return s.manifests.Add(ctx, tenantID, contentIDs)
}
