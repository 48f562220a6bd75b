package outbox

import (
	"context"
	"sync"

	"github.com/moorlabs/driftsync/internal/models"
)

// MemoryStore keeps the outbox in process memory. Used by tests and by the
// reconciler when durability is someone else's problem.
type MemoryStore struct {
	mu      sync.Mutex
	events  []*models.OutboxEvent
	cursors map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]int64)}
}

func (s *MemoryStore) Insert(ctx context.Context, event *models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

func (s *MemoryStore) Pending(ctx context.Context) ([]*models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The slice is already in insertion order, which is the FIFO contract.
	var pending []*models.OutboxEvent
	for _, event := range s.events {
		if event.SyncStatus == models.StatusQueued || event.SyncStatus == models.StatusFailed {
			copied := *event
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (s *MemoryStore) MarkSynced(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, event := range s.events {
		if _, ok := set[event.ID]; ok {
			event.SyncStatus = models.StatusSynced
			event.LastError = ""
		}
	}
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.ID == id {
			event.SyncStatus = models.StatusFailed
			event.LastError = lastError
		}
	}
	return nil
}

// Get returns the stored event by id, for inspection in tests.
func (s *MemoryStore) Get(id string) (*models.OutboxEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.ID == id {
			copied := *event
			return &copied, true
		}
	}
	return nil, false
}

func (s *MemoryStore) GetCursors(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetCursor(ctx context.Context, scope string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[scope] = cursor
	return nil
}

func (s *MemoryStore) Close() error { return nil }
