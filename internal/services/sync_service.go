package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/notify"
	"github.com/moorlabs/driftsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

var (
	// ErrValidation rejects a whole request before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrTenantNotFound maps to PROJECT_NOT_FOUND at the boundary.
	ErrTenantNotFound = errors.New("tenant not found")
)

// SyncService is the server side of a sync cycle: idempotent batch apply into
// the change log, and checkpointed incremental pull back out.
type SyncService struct {
	changeLog   repositories.ChangeLogRepository
	checkpoints repositories.CheckpointRepository
	idempotency repositories.IdempotencyRepository
	tenants     repositories.TenantRepository
	devices     repositories.DeviceRepository
	notifier    notify.Notifier
	logger      *logrus.Logger

	scopes     map[string][]string
	visibility VisibilityFilter
	maxBatch   int
	pullLimit  int
}

type SyncServiceOption func(*SyncService)

func WithScopes(scopes map[string][]string) SyncServiceOption {
	return func(s *SyncService) { s.scopes = scopes }
}

func WithVisibility(filter VisibilityFilter) SyncServiceOption {
	return func(s *SyncService) { s.visibility = filter }
}

func WithMaxBatch(n int) SyncServiceOption {
	return func(s *SyncService) { s.maxBatch = n }
}

func WithPullLimit(n int) SyncServiceOption {
	return func(s *SyncService) { s.pullLimit = n }
}

func NewSyncService(
	changeLog repositories.ChangeLogRepository,
	checkpoints repositories.CheckpointRepository,
	idempotency repositories.IdempotencyRepository,
	tenants repositories.TenantRepository,
	devices repositories.DeviceRepository,
	notifier notify.Notifier,
	logger *logrus.Logger,
	opts ...SyncServiceOption,
) *SyncService {
	s := &SyncService{
		changeLog:   changeLog,
		checkpoints: checkpoints,
		idempotency: idempotency,
		tenants:     tenants,
		devices:     devices,
		notifier:    notifier,
		logger:      logger,
		scopes:      DefaultScopes,
		visibility:  DefaultVisibility,
		maxBatch:    models.MaxBatchEvents,
		pullLimit:   models.DefaultPullLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push applies a batch of client mutations. Two replay guards run in order:
// the batch marker short-circuits a fully acknowledged retry, and a per-event
// claim rejects events that already applied, whether in an earlier
// partially-failed batch or in a concurrent duplicate delivery of this one.
// The batch marker is only written once every event was individually
// evaluated and none failed on storage, so a retry re-evaluates exactly the
// events that still need it.
func (s *SyncService) Push(ctx context.Context, caller models.Caller, req models.PushRequest) (*models.PushResponse, error) {
	if err := s.validatePush(&req); err != nil {
		return nil, err
	}

	if _, err := s.tenants.GetByID(ctx, caller.TenantID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"tenant": caller.TenantID,
		"device": req.DeviceID,
		"batch":  req.BatchID,
	})

	replayed, err := s.idempotency.BatchProcessed(ctx, caller.TenantID, req.DeviceID, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to check batch marker: %w", err)
	}
	if replayed {
		watermark, err := s.changeLog.LastSeq(ctx, caller.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to read watermark: %w", err)
		}
		log.Info("batch replay detected, skipping apply")
		return &models.PushResponse{
			Replayed:        true,
			Accepted:        []string{},
			Rejected:        []models.RejectedEvent{},
			ServerWatermark: watermark,
		}, nil
	}

	resp := &models.PushResponse{
		Accepted: []string{},
		Rejected: []models.RejectedEvent{},
	}
	storageFailed := false

	for _, event := range req.Events {
		// The claim is an atomic test-and-set, so a duplicate delivery
		// racing this one cannot both pass: only the claim winner applies.
		claimed, err := s.idempotency.ClaimEvent(ctx, caller.TenantID, event.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event marker: %w", err)
		}
		if !claimed {
			resp.Rejected = append(resp.Rejected, models.RejectedEvent{
				EventID: event.EventID,
				Code:    models.CodeIdempotentReplay,
				Message: "event already applied",
			})
			continue
		}

		if _, err := s.changeLog.ApplyEvent(ctx, caller.TenantID, event); err != nil {
			// Release the claim and leave the batch marker unset so the
			// client's retry re-applies this event; its applied siblings
			// keep their claims.
			if relErr := s.idempotency.ReleaseEvent(ctx, caller.TenantID, event.EventID); relErr != nil {
				return nil, fmt.Errorf("failed to release event marker: %w", relErr)
			}
			storageFailed = true
			log.WithField("event", event.EventID).Errorf("apply failed: %v", err)
			resp.Rejected = append(resp.Rejected, models.RejectedEvent{
				EventID: event.EventID,
				Code:    models.CodeInternalError,
				Message: "failed to apply event",
			})
			continue
		}

		resp.Accepted = append(resp.Accepted, event.EventID)
	}

	if !storageFailed {
		if err := s.idempotency.MarkBatchProcessed(ctx, caller.TenantID, req.DeviceID, req.BatchID); err != nil {
			return nil, fmt.Errorf("failed to mark batch processed: %w", err)
		}
	}

	watermark, err := s.changeLog.LastSeq(ctx, caller.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	resp.ServerWatermark = watermark

	if len(resp.Accepted) > 0 {
		s.notifier.ChangesAppended(ctx, caller.TenantID, watermark, len(resp.Accepted))
	}

	log.WithFields(logrus.Fields{
		"accepted": len(resp.Accepted),
		"rejected": len(resp.Rejected),
	}).Info("push applied")
	return resp, nil
}

func (s *SyncService) validatePush(req *models.PushRequest) error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	if req.BatchID == "" {
		return fmt.Errorf("%w: batchId is required", ErrValidation)
	}
	if len(req.Events) > s.maxBatch {
		return fmt.Errorf("%w: batch exceeds %d events", ErrValidation, s.maxBatch)
	}
	now := time.Now()
	for i := range req.Events {
		if err := req.Events[i].Validate(now); err != nil {
			return fmt.Errorf("%w: event %d: %v", ErrValidation, i, err)
		}
	}
	return nil
}

// Pull returns new change-log entries per scope, filtered for the caller's
// visibility. The cursor for each scope advances only over entries the caller
// actually received: entries invisible at this scope are durably skipped for
// this caller but remain available to every other checkpoint key.
func (s *SyncService) Pull(ctx context.Context, caller models.Caller, req models.PullRequest) (*models.PullResponse, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrValidation)
	}

	if _, err := s.tenants.GetByID(ctx, caller.TenantID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to check tenant: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.pullLimit
	}
	if limit > models.MaxPullLimit {
		limit = models.MaxPullLimit
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		for scope := range s.scopes {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
	}

	resp := &models.PullResponse{
		NextCheckpoints: make(map[string]int64, len(scopes)),
	}

	for _, scope := range scopes {
		if _, ok := s.scopes[scope]; !ok {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
		}

		key := caller.CheckpointFor(scope)
		since, explicit := int64(0), false
		if req.Checkpoints != nil {
			since, explicit = cursorFrom(req.Checkpoints, scope)
		}
		if !explicit {
			stored, err := s.checkpoints.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to read checkpoint: %w", err)
			}
			since = stored
		}

		entries, err := s.changeLog.PullSince(ctx, caller.TenantID, since, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to pull changes: %w", err)
		}

		changes := make([]*models.ChangeLogEntry, 0, len(entries))
		next := since
		for _, entry := range entries {
			if scopeFor(s.scopes, entry.EntityType) != scope {
				continue
			}
			if !s.visibility(caller, entry) {
				continue
			}
			changes = append(changes, entry)
			if entry.Seq > next {
				next = entry.Seq
			}
		}

		if err := s.checkpoints.Set(ctx, key, next); err != nil {
			return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
		}

		resp.Scopes = append(resp.Scopes, models.ScopeChanges{Scope: scope, Changes: changes})
		resp.NextCheckpoints[scope] = next
	}

	if err := s.devices.Touch(ctx, caller.TenantID, req.DeviceID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		s.logger.Warnf("failed to touch device %s: %v", req.DeviceID, err)
	}

	return resp, nil
}

// Watermark reports the tenant's highest assigned sequence number.
func (s *SyncService) Watermark(ctx context.Context, tenantID string) (int64, error) {
	return s.changeLog.LastSeq(ctx, tenantID)
}

func cursorFrom(checkpoints map[string]int64, scope string) (int64, bool) {
	cursor, ok := checkpoints[scope]
	return cursor, ok
}
