package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a write targets a record owned by
	// another device or user.
	ErrForbidden = errors.New("forbidden")
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

type DeviceRepository interface {
	// Touch registers the device if unknown and bumps last_seen_at.
	Touch(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	// Link records the owning account. Linking a device owned by a
	// different account fails with ErrForbidden.
	Link(ctx context.Context, id, accountID uuid.UUID) error
	// Relink moves a device from one account to another. It fails with
	// ErrForbidden when the device is no longer owned by from.
	Relink(ctx context.Context, id, from, to uuid.UUID) error
}

type FlashRepository interface {
	GetByID(ctx context.Context, id string) (*models.Flash, error)
	// Upsert inserts or overwrites by id when the incoming version is not
	// older than the stored one. It reports whether the row was written.
	Upsert(ctx context.Context, flash *models.Flash) (bool, error)
	// Delete physically removes the record. Missing ids are not an error.
	Delete(ctx context.Context, id string) error
	ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.Flash, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Flash, error)
	// LinkDevice assigns every unowned flash of deviceID to userID in one
	// statement and returns how many were assigned.
	LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string) (int, error)
	// ClearTrash purges the user's deleted flashes.
	ClearTrash(ctx context.Context, userID string) (int, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID uuid.UUID) error
}

type RateLimiter interface {
	// Allow counts one hit for key in the current window and reports
	// whether the key is still under limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
