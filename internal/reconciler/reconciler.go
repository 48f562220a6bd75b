// Package reconciler drives one client sync cycle: drain the outbox, push to
// the server, pull new change-log entries, merge them locally, and advance
// the cursor cache.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/outbox"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CursorStore caches the device's pull cursors locally. The server-side
// checkpoint remains authoritative; the cache exists for status display and
// for explicit resets.
type CursorStore interface {
	GetCursors(ctx context.Context) (map[string]int64, error)
	SetCursor(ctx context.Context, scope string, cursor int64) error
}

// Result summarizes one completed cycle.
type Result struct {
	Pushed          int
	Accepted        int
	Rejected        int
	Replayed        bool
	Pulled          int
	Watermark       int64
	NextCheckpoints map[string]int64
}

type Reconciler struct {
	deviceID   string
	queue      *outbox.Queue
	cursors    CursorStore
	transport  Transport
	projection *Projection
	scopes     []string
	batchSize  int
	logger     *logrus.Logger

	group singleflight.Group
}

func New(
	deviceID string,
	queue *outbox.Queue,
	cursors CursorStore,
	transport Transport,
	projection *Projection,
	scopes []string,
	logger *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		deviceID:   deviceID,
		queue:      queue,
		cursors:    cursors,
		transport:  transport,
		projection: projection,
		scopes:     scopes,
		batchSize:  models.MaxBatchEvents,
		logger:     logger,
	}
}

// batchNamespace seeds deterministic batch ids.
var batchNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// BatchID derives a stable batch id from the event ids it carries. A retry of
// the same drained set produces the same id, which is what lets the server's
// batch-level replay guard recognize a resent batch whose acknowledgment was
// lost.
func BatchID(events []*models.OutboxEvent) string {
	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	sort.Strings(ids)
	return uuid.NewSHA1(batchNamespace, []byte(strings.Join(ids, "\n"))).String()
}

// Sync runs one cycle. Concurrent calls coalesce onto a single in-flight
// cycle; a second trigger while one is running gets that cycle's result
// instead of racing it for the outbox and checkpoints.
func (r *Reconciler) Sync(ctx context.Context) (*Result, error) {
	v, err, _ := r.group.Do("cycle", func() (interface{}, error) {
		return r.cycle(ctx, nil)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Result), err
}

// Reset re-pulls everything from cursor zero, overriding the server-stored
// checkpoints for this call.
func (r *Reconciler) Reset(ctx context.Context) (*Result, error) {
	zeros := make(map[string]int64, len(r.scopes))
	for _, scope := range r.scopes {
		zeros[scope] = 0
	}
	v, err, _ := r.group.Do("cycle", func() (interface{}, error) {
		return r.cycle(ctx, zeros)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Result), err
}

func (r *Reconciler) cycle(ctx context.Context, checkpoints map[string]int64) (*Result, error) {
	result := &Result{}

	if err := r.push(ctx, result); err != nil {
		return result, err
	}

	// Push and pull are independently retryable; a cancellation here leaves
	// the outbox in its post-push state and the checkpoints untouched.
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := r.pull(ctx, checkpoints, result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Reconciler) push(ctx context.Context, result *Result) error {
	events, err := r.queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("failed to drain outbox: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	for start := 0; start < len(events); start += r.batchSize {
		end := start + r.batchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		mutations := make([]models.MutationEvent, 0, len(chunk))
		sent := make([]*models.OutboxEvent, 0, len(chunk))
		for _, event := range chunk {
			mutation, err := r.queue.Hydrate(ctx, event)
			if err != nil {
				r.logger.Warnf("hydration failed for %s: %v", event.ID, err)
				if markErr := r.queue.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
					return markErr
				}
				continue
			}
			mutations = append(mutations, mutation)
			sent = append(sent, event)
		}
		if len(mutations) == 0 {
			continue
		}

		// The batch id covers exactly the events going over the wire, so a
		// retry of the same set replays as the same batch.
		req := models.PushRequest{
			DeviceID: r.deviceID,
			BatchID:  BatchID(sent),
			Events:   mutations,
		}

		resp, err := r.transport.Push(ctx, req)
		if err != nil {
			for _, mutation := range mutations {
				if markErr := r.queue.MarkFailed(ctx, mutation.EventID, err.Error()); markErr != nil {
					return markErr
				}
			}
			return fmt.Errorf("push failed: %w", err)
		}

		result.Pushed += len(mutations)
		result.Watermark = resp.ServerWatermark

		if resp.Replayed {
			// The server saw this batch before; our previous ack was lost.
			result.Replayed = true
			ids := make([]string, len(mutations))
			for i, mutation := range mutations {
				ids[i] = mutation.EventID
			}
			if err := r.queue.MarkSynced(ctx, ids); err != nil {
				return err
			}
			result.Accepted += len(ids)
			continue
		}

		if err := r.queue.MarkSynced(ctx, resp.Accepted); err != nil {
			return err
		}
		result.Accepted += len(resp.Accepted)

		for _, rejected := range resp.Rejected {
			if rejected.Code == models.CodeIdempotentReplay {
				// Already applied server-side; nothing left to deliver.
				if err := r.queue.MarkSynced(ctx, []string{rejected.EventID}); err != nil {
					return err
				}
				continue
			}
			result.Rejected++
			if err := r.queue.MarkFailed(ctx, rejected.EventID, rejected.Message); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) pull(ctx context.Context, checkpoints map[string]int64, result *Result) error {
	req := models.PullRequest{
		DeviceID:    r.deviceID,
		Scopes:      r.scopes,
		Checkpoints: checkpoints,
	}

	resp, err := r.transport.Pull(ctx, req)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	for _, scope := range resp.Scopes {
		for _, entry := range scope.Changes {
			if r.projection.Apply(entry) {
				result.Pulled++
			}
		}
	}

	for scope, cursor := range resp.NextCheckpoints {
		if err := r.cursors.SetCursor(ctx, scope, cursor); err != nil {
			return fmt.Errorf("failed to cache cursor: %w", err)
		}
	}
	result.NextCheckpoints = resp.NextCheckpoints
	return nil
}
