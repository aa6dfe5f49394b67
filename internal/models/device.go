package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is the server-side registry entry for an installation. Devices
// register themselves on first write; AccountID is set once linked.
type Device struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  *uuid.UUID `json:"account_id,omitempty"`
	LinkedAt   *time.Time `json:"linked_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
