package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity is the per-installation singleton record.
type DeviceIdentity struct {
	DeviceID uuid.UUID  `json:"deviceId"`
	UserID   *string    `json:"userId"`
	LinkedAt *time.Time `json:"linkedAt"`
}

// Credentials is the cached session of the signed-in user on this device.
type Credentials struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Credentials) Expired(now time.Time) bool {
	return c == nil || c.Token == "" || !now.Before(c.ExpiresAt)
}
