package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prudhvinik1/flashsync/internal/models"
)

const (
	keyDeviceIdentity = "device_identity"
	keyCredentials    = "credentials"
)

func (s *Store) getKV(ctx context.Context, key string, dst any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putKV(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKV(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeviceIdentity returns ErrNotFound before the first identity is created.
func (s *Store) DeviceIdentity(ctx context.Context) (*models.DeviceIdentity, error) {
	var id models.DeviceIdentity
	if err := s.getKV(ctx, keyDeviceIdentity, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Store) PutDeviceIdentity(ctx context.Context, id *models.DeviceIdentity) error {
	return s.putKV(ctx, keyDeviceIdentity, id)
}

func (s *Store) Credentials(ctx context.Context) (*models.Credentials, error) {
	var c models.Credentials
	if err := s.getKV(ctx, keyCredentials, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) PutCredentials(ctx context.Context, c *models.Credentials) error {
	return s.putKV(ctx, keyCredentials, c)
}

func (s *Store) ClearCredentials(ctx context.Context) error {
	return s.deleteKV(ctx, keyCredentials)
}
