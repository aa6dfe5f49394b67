package models

import (
	"time"

	"github.com/google/uuid"
)

// Session backs one issued access token. Deleting it revokes the token
// before its exp claim.
type Session struct {
	ID        string    `json:"id"`
	AccountID uuid.UUID `json:"accountId"`
	DeviceID  uuid.UUID `json:"deviceId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
