// Package queue is the durable at-least-once log of local mutations that
// have not yet been confirmed by the server.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/models"
)

// Queue shares the local store's database file but none of its locking.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends item. Re-enqueueing an id already present is a no-op.
func (q *Queue) Enqueue(ctx context.Context, item models.MutationQueueItem) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("failed to encode mutation %s: %w", item.ID, err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (id, flash_id, action, data, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, item.ID, item.Data.ID, string(item.Action), string(data), item.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation %s: %w", item.ID, err)
	}
	return nil
}

// Drain returns every pending item in enqueue order without removing it.
func (q *Queue) Drain(ctx context.Context) ([]models.MutationQueueItem, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, action, data, timestamp FROM mutation_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var items []models.MutationQueueItem
	for rows.Next() {
		var (
			item   models.MutationQueueItem
			action string
			data   string
			ts     int64
		)
		if err := rows.Scan(&item.ID, &action, &data, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &item.Data); err != nil {
			return nil, fmt.Errorf("failed to decode mutation %s: %w", item.ID, err)
		}
		item.Action = models.Action(action)
		item.Timestamp = fromMillis(ts)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Confirm removes the item. Confirming an unknown id is a no-op.
func (q *Queue) Confirm(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to confirm mutation %s: %w", id, err)
	}
	return nil
}

// AssignUser stamps userID on the queued snapshots of deviceID's unowned
// flashes so they reach the server already owned. It returns how many
// items were rewritten.
func (q *Queue) AssignUser(ctx context.Context, deviceID uuid.UUID, userID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE mutation_queue
		SET data = json_set(data, '$.userId', ?)
		WHERE json_extract(data, '$.deviceId') = ?
		  AND json_extract(data, '$.userId') IS NULL
	`, userID, deviceID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to assign queued mutations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
