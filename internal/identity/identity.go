// Package identity manages the per-installation device identity record.
// It never talks to the network.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/localstore"
	"github.com/prudhvinik1/flashsync/internal/models"
)

type Store interface {
	DeviceIdentity(ctx context.Context) (*models.DeviceIdentity, error)
	PutDeviceIdentity(ctx context.Context, id *models.DeviceIdentity) error
}

type Manager struct {
	store Store
	now   func() time.Time

	mu sync.Mutex
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: models.Now}
}

// GetOrCreateDeviceID returns the persisted device id, generating and
// persisting one on first use.
func (m *Manager) GetOrCreateDeviceID(ctx context.Context) (uuid.UUID, error) {
	id, err := m.Current(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return id.DeviceID, nil
}

// Current returns the identity record, creating it if absent.
func (m *Manager) Current(ctx context.Context) (*models.DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (*models.DeviceIdentity, error) {
	id, err := m.store.DeviceIdentity(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}

	id = &models.DeviceIdentity{DeviceID: uuid.New()}
	if err := m.store.PutDeviceIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to persist device identity: %w", err)
	}
	return id, nil
}

// Link records userID as the signed-in owner of this device.
func (m *Manager) Link(ctx context.Context, userID string) (*models.DeviceIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	id.UserID = &userID
	id.LinkedAt = &now
	if err := m.store.PutDeviceIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to link device identity: %w", err)
	}
	return id, nil
}

// Unlink clears the owner on sign-out. The device id is kept.
func (m *Manager) Unlink(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.load(ctx)
	if err != nil {
		return err
	}
	id.UserID = nil
	id.LinkedAt = nil
	if err := m.store.PutDeviceIdentity(ctx, id); err != nil {
		return fmt.Errorf("failed to unlink device identity: %w", err)
	}
	return nil
}

// UserID returns the linked user, or "" when the device is anonymous.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	id, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	if id.UserID == nil {
		return "", nil
	}
	return *id.UserID, nil
}
