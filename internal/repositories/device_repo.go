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

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := `INSERT INTO devices (id, last_seen_at)
	          VALUES ($1, NOW())
	          ON CONFLICT (id) DO UPDATE SET last_seen_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT id, account_id, linked_at, last_seen_at, created_at
	          FROM devices
	          WHERE id = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.AccountID,
		&device.LinkedAt,
		&device.LastSeenAt,
		&device.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

// Link claims the device for accountID. Re-linking to the same account is a
// no-op; a device owned by someone else is left untouched.
func (r *PostgresDeviceRepository) Link(ctx context.Context, id, accountID uuid.UUID) error {
	query := `INSERT INTO devices (id, account_id, linked_at, last_seen_at)
	          VALUES ($1, $2, NOW(), NOW())
	          ON CONFLICT (id) DO UPDATE
	          SET account_id = EXCLUDED.account_id,
	              linked_at = COALESCE(devices.linked_at, EXCLUDED.linked_at),
	              last_seen_at = NOW()
	          WHERE devices.account_id IS NULL OR devices.account_id = EXCLUDED.account_id`

	result, err := r.pool.Exec(ctx, query, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to link device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrForbidden
	}
	return nil
}

func (r *PostgresDeviceRepository) Relink(ctx context.Context, id, from, to uuid.UUID) error {
	query := `UPDATE devices
	          SET account_id = $3, linked_at = NOW(), last_seen_at = NOW()
	          WHERE id = $1 AND account_id = $2`

	result, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to relink device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrForbidden
	}
	return nil
}
