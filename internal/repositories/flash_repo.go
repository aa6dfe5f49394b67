package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/flashsync/internal/models"
)

const flashColumns = `id, content, status, previous_status, device_id, user_id,
	created_at, updated_at, version, synced_at, deleted_at`

type PostgresFlashRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFlashRepository(pool *pgxpool.Pool) *PostgresFlashRepository {
	return &PostgresFlashRepository{pool: pool}
}

// scanFlash reads one row selected with flashColumns.
func scanFlash(row pgx.Row) (*models.Flash, error) {
	var (
		flash          models.Flash
		status         string
		previousStatus *string
	)
	err := row.Scan(
		&flash.ID,
		&flash.Content,
		&status,
		&previousStatus,
		&flash.DeviceID,
		&flash.UserID,
		&flash.CreatedAt,
		&flash.UpdatedAt,
		&flash.Version,
		&flash.SyncedAt,
		&flash.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	flash.Status = models.Status(status)
	if previousStatus != nil {
		ps := models.Status(*previousStatus)
		flash.PreviousStatus = &ps
	}
	normalizeTimes(&flash)
	return &flash, nil
}

func (r *PostgresFlashRepository) GetByID(ctx context.Context, id string) (*models.Flash, error) {
	query := `SELECT ` + flashColumns + ` FROM flashes WHERE id = $1`

	flash, err := scanFlash(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flash: %w", err)
	}
	return flash, nil
}

// Upsert writes the flash unless the stored copy carries a newer version.
// Equal versions overwrite, so the later arrival wins ties. A stored user_id
// is never cleared by an unowned snapshot.
func (r *PostgresFlashRepository) Upsert(ctx context.Context, flash *models.Flash) (bool, error) {
	query := `INSERT INTO flashes (` + flashColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          ON CONFLICT (id) DO UPDATE
	          SET content = EXCLUDED.content,
	              status = EXCLUDED.status,
	              previous_status = EXCLUDED.previous_status,
	              user_id = COALESCE(EXCLUDED.user_id, flashes.user_id),
	              updated_at = EXCLUDED.updated_at,
	              version = EXCLUDED.version,
	              synced_at = EXCLUDED.synced_at,
	              deleted_at = EXCLUDED.deleted_at
	          WHERE flashes.version <= EXCLUDED.version`

	var previousStatus *string
	if flash.PreviousStatus != nil {
		ps := string(*flash.PreviousStatus)
		previousStatus = &ps
	}

	result, err := r.pool.Exec(ctx, query,
		flash.ID,
		flash.Content,
		string(flash.Status),
		previousStatus,
		flash.DeviceID,
		flash.UserID,
		flash.CreatedAt,
		flash.UpdatedAt,
		flash.Version,
		flash.SyncedAt,
		flash.DeletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert flash: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PostgresFlashRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM flashes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete flash: %w", err)
	}
	return nil
}

func (r *PostgresFlashRepository) ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.Flash, error) {
	query := `SELECT ` + flashColumns + ` FROM flashes WHERE device_id = $1 ORDER BY id ASC`
	return r.list(ctx, query, deviceID)
}

func (r *PostgresFlashRepository) ListByUser(ctx context.Context, userID string) ([]*models.Flash, error) {
	query := `SELECT ` + flashColumns + ` FROM flashes WHERE user_id = $1 ORDER BY id ASC`
	return r.list(ctx, query, userID)
}

func (r *PostgresFlashRepository) list(ctx context.Context, query string, arg any) ([]*models.Flash, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query flashes: %w", err)
	}
	defer rows.Close()

	flashes := []*models.Flash{}
	for rows.Next() {
		flash, err := scanFlash(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flash: %w", err)
		}
		flashes = append(flashes, flash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flashes: %w", err)
	}
	return flashes, nil
}

// LinkDevice is a single UPDATE, so it is atomic with respect to
// concurrent upserts of the same device's rows.
func (r *PostgresFlashRepository) LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string) (int, error) {
	query := `UPDATE flashes
	          SET user_id = $2
	          WHERE device_id = $1 AND user_id IS NULL`

	result, err := r.pool.Exec(ctx, query, deviceID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to link device flashes: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *PostgresFlashRepository) ClearTrash(ctx context.Context, userID string) (int, error) {
	query := `DELETE FROM flashes WHERE user_id = $1 AND status = $2`

	result, err := r.pool.Exec(ctx, query, userID, string(models.StatusDeleted))
	if err != nil {
		return 0, fmt.Errorf("failed to clear trash: %w", err)
	}
	return int(result.RowsAffected()), nil
}
