package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/moorlabs/driftsync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	op          TEXT NOT NULL,
	payload     TEXT,
	occurred_at TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	sync_status TEXT NOT NULL,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events (sync_status, created_at);

CREATE TABLE IF NOT EXISTS sync_cursors (
	scope  TEXT PRIMARY KEY,
	cursor INTEGER NOT NULL
);
`

// SQLiteStore is the durable client-side outbox. One file per device.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, event *models.OutboxEvent) error {
	var payload []byte
	if event.Payload != nil {
		var err error
		if payload, err = json.Marshal(event.Payload); err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	query := `INSERT INTO outbox_events
	          (id, entity_type, entity_id, op, payload, occurred_at, created_at, sync_status, last_error)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.EntityType, event.EntityID, string(event.Op),
		string(payload), event.OccurredAt, event.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(event.SyncStatus), event.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]*models.OutboxEvent, error) {
	// Ordering by rowid is insertion order, which is what FIFO means here;
	// created_at strings have variable sub-second width and do not sort.
	query := `SELECT id, entity_type, entity_id, op, payload, occurred_at, created_at, sync_status, last_error
	          FROM outbox_events
	          WHERE sync_status IN (?, ?)
	          ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, string(models.StatusQueued), string(models.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		var event models.OutboxEvent
		var op, payload, createdAt, status string
		err := rows.Scan(&event.ID, &event.EntityType, &event.EntityID, &op, &payload,
			&event.OccurredAt, &createdAt, &status, &event.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Op = models.ChangeOp(op)
		event.SyncStatus = models.SyncStatus(status)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		if event.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(models.StatusSynced))
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`UPDATE outbox_events SET sync_status = ?, last_error = '' WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark events synced: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, lastError string) error {
	query := `UPDATE outbox_events SET sync_status = ?, last_error = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, string(models.StatusFailed), lastError, id); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// GetCursors loads the locally cached pull cursors.
func (s *SQLiteStore) GetCursors(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope, cursor FROM sync_cursors`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	cursors := make(map[string]int64)
	for rows.Next() {
		var scope string
		var cursor int64
		if err := rows.Scan(&scope, &cursor); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors[scope] = cursor
	}
	return cursors, rows.Err()
}

func (s *SQLiteStore) SetCursor(ctx context.Context, scope string, cursor int64) error {
	query := `INSERT INTO sync_cursors (scope, cursor) VALUES (?, ?)
	          ON CONFLICT (scope) DO UPDATE SET cursor = ?`
	if _, err := s.db.ExecContext(ctx, query, scope, cursor, cursor); err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
