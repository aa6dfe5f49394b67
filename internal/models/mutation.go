package models

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// MutationQueueItem is one intended remote effect. Data is the flash
// snapshot taken at mutation time.
type MutationQueueItem struct {
	ID        string    `json:"id" validate:"required"`
	Action    Action    `json:"action" validate:"required,oneof=create update delete"`
	Data      Flash     `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMutation(action Action, f Flash, now time.Time) MutationQueueItem {
	return MutationQueueItem{
		ID:        uuid.New().String(),
		Action:    action,
		Data:      f.Clone(),
		Timestamp: now,
	}
}
