package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/models"
)

const flashColumns = `id, content, status, previous_status, device_id, user_id,
	created_at, updated_at, version, synced_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func scanFlash(row rowScanner) (*models.Flash, error) {
	var (
		f                         models.Flash
		status, deviceID          string
		previousStatus, userID    sql.NullString
		createdAt, updatedAt, ver int64
		syncedAt, deletedAt       sql.NullInt64
	)
	err := row.Scan(&f.ID, &f.Content, &status, &previousStatus, &deviceID, &userID,
		&createdAt, &updatedAt, &ver, &syncedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.Status = models.Status(status)
	if previousStatus.Valid {
		ps := models.Status(previousStatus.String)
		f.PreviousStatus = &ps
	}
	if f.DeviceID, err = uuid.Parse(deviceID); err != nil {
		return nil, fmt.Errorf("corrupt device id on flash %s: %w", f.ID, err)
	}
	if userID.Valid {
		f.UserID = &userID.String
	}
	f.CreatedAt = fromMillis(createdAt)
	f.UpdatedAt = fromMillis(updatedAt)
	f.Version = fromMillis(ver)
	if syncedAt.Valid {
		t := fromMillis(syncedAt.Int64)
		f.SyncedAt = &t
	}
	if deletedAt.Valid {
		t := fromMillis(deletedAt.Int64)
		f.DeletedAt = &t
	}
	return &f, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putFlash(ctx context.Context, db execer, f *models.Flash) error {
	var previousStatus sql.NullString
	if f.PreviousStatus != nil {
		previousStatus = sql.NullString{String: string(*f.PreviousStatus), Valid: true}
	}
	var userID sql.NullString
	if f.UserID != nil {
		userID = sql.NullString{String: *f.UserID, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO flashes (`+flashColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			previous_status = excluded.previous_status,
			device_id = excluded.device_id,
			user_id = excluded.user_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			version = excluded.version,
			synced_at = excluded.synced_at,
			deleted_at = excluded.deleted_at
	`, f.ID, f.Content, string(f.Status), previousStatus, f.DeviceID.String(), userID,
		toMillis(f.CreatedAt), toMillis(f.UpdatedAt), toMillis(f.Version),
		nullMillis(f.SyncedAt), nullMillis(f.DeletedAt))
	return err
}

// Put inserts or fully overwrites the flash with the same id.
func (s *Store) Put(ctx context.Context, f *models.Flash) error {
	if err := putFlash(ctx, s.db, f); err != nil {
		return fmt.Errorf("failed to put flash %s: %w", f.ID, err)
	}
	return nil
}

// PutAll writes every flash in a single transaction.
func (s *Store) PutAll(ctx context.Context, flashes []*models.Flash) error {
	if len(flashes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range flashes {
			if err := putFlash(ctx, tx, f); err != nil {
				return fmt.Errorf("failed to put flash %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (*models.Flash, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flashColumns+` FROM flashes WHERE id = ?`, id)
	return scanFlash(row)
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]*models.Flash, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+flashColumns+` FROM flashes `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flashes: %w", err)
	}
	defer rows.Close()

	var out []*models.Flash
	for rows.Next() {
		f, err := scanFlash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetAll returns every flash, oldest first.
func (s *Store) GetAll(ctx context.Context) ([]*models.Flash, error) {
	return s.query(ctx, "")
}

func (s *Store) GetByStatus(ctx context.Context, status models.Status) ([]*models.Flash, error) {
	return s.query(ctx, "WHERE status = ?", string(status))
}

func (s *Store) GetByDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.Flash, error) {
	return s.query(ctx, "WHERE device_id = ?", deviceID.String())
}

// GetByUser scans the whole set; single-user volumes keep this cheap.
func (s *Store) GetByUser(ctx context.Context, userID string) ([]*models.Flash, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Flash
	for _, f := range all {
		if f.UserID != nil && *f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Delete physically removes a flash. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flashes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete flash %s: %w", id, err)
	}
	return nil
}

// AssignUser gives every unowned flash of deviceID to userID. The version is
// left alone; the server performs the same reassignment on link.
func (s *Store) AssignUser(ctx context.Context, deviceID uuid.UUID, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flashes SET user_id = ? WHERE device_id = ? AND user_id IS NULL`,
		userID, deviceID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to assign flashes: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkSynced stamps syncedAt only if the stored version is still the one
// that was confirmed.
func (s *Store) MarkSynced(ctx context.Context, id string, version, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flashes SET synced_at = ? WHERE id = ? AND version = ?`,
		toMillis(at), id, toMillis(version))
	if err != nil {
		return false, fmt.Errorf("failed to mark flash %s synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteTrash physically removes userID's deleted flashes.
func (s *Store) DeleteTrash(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM flashes WHERE user_id = ? AND status = ?`,
		userID, string(models.StatusDeleted))
	if err != nil {
		return 0, fmt.Errorf("failed to clear trash: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
