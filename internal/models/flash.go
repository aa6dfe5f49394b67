package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// MaxContentLength is the upper bound on flash content, counted in code points.
const MaxContentLength = 280

var (
	ErrEmptyContent      = errors.New("content is required")
	ErrContentTooLong    = fmt.Errorf("content exceeds %d characters", MaxContentLength)
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeleted           = errors.New("flash is deleted")
)

type Status string

const (
	StatusIncubating Status = "incubating"
	StatusSurfaced   Status = "surfaced"
	StatusArchived   Status = "archived"
	StatusDeleted    Status = "deleted"
)

// rank orders the forward-only part of the lifecycle.
var rank = map[Status]int{
	StatusIncubating: 0,
	StatusSurfaced:   1,
	StatusArchived:   2,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusDeleted
}

type Flash struct {
	ID             string     `json:"id" validate:"required"`
	Content        string     `json:"content" validate:"max=280"`
	Status         Status     `json:"status" validate:"oneof=incubating surfaced archived deleted"`
	PreviousStatus *Status    `json:"previousStatus"`
	DeviceID       uuid.UUID  `json:"deviceId"`
	UserID         *string    `json:"userId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Version        time.Time  `json:"version"`
	SyncedAt       *time.Time `json:"syncedAt"`
	DeletedAt      *time.Time `json:"deletedAt"`
}

// Now returns the current wall-clock time at the precision used by
// version stamps and timestamps on both sides of the wire.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewFlashID returns a lexicographically time-ordered id for a flash created at t.
func NewFlashID(t time.Time) (string, error) {
	id, err := ksuid.NewRandomWithTime(t)
	if err != nil {
		return "", fmt.Errorf("failed to generate flash id: %w", err)
	}
	return id.String(), nil
}

// ValidateContent checks the content bound in code points, not bytes.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// NewFlash builds an incubating flash owned by deviceID.
func NewFlash(content string, deviceID uuid.UUID, userID *string, now time.Time) (*Flash, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	id, err := NewFlashID(now)
	if err != nil {
		return nil, err
	}
	return &Flash{
		ID:        id,
		Content:   content,
		Status:    StatusIncubating,
		DeviceID:  deviceID,
		UserID:    cloneString(userID),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   now,
	}, nil
}

// Clone returns a deep copy so snapshots never share pointer fields.
func (f Flash) Clone() Flash {
	out := f
	if f.PreviousStatus != nil {
		ps := *f.PreviousStatus
		out.PreviousStatus = &ps
	}
	out.UserID = cloneString(f.UserID)
	out.SyncedAt = cloneTime(f.SyncedAt)
	out.DeletedAt = cloneTime(f.DeletedAt)
	return out
}

// Touch stamps a mutation. The version always moves strictly forward,
// even if the wall clock did not.
func (f *Flash) Touch(now time.Time) {
	v := now
	if !v.After(f.Version) {
		v = f.Version.Add(time.Millisecond)
	}
	f.Version = v
	f.UpdatedAt = now
	f.SyncedAt = nil
}

func (f *Flash) SetContent(content string, now time.Time) error {
	if f.Status == StatusDeleted {
		return ErrDeleted
	}
	if err := ValidateContent(content); err != nil {
		return err
	}
	f.Content = content
	f.Touch(now)
	return nil
}

// Advance moves the flash forward through incubating -> surfaced -> archived.
func (f *Flash) Advance(to Status, now time.Time) error {
	if f.Status == StatusDeleted {
		return ErrDeleted
	}
	cur, ok := rank[f.Status]
	next, ok2 := rank[to]
	if !ok || !ok2 || next <= cur {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, to)
	}
	f.Status = to
	f.Touch(now)
	return nil
}

// SoftDelete moves the flash to the trash, remembering where it came from.
func (f *Flash) SoftDelete(now time.Time) error {
	if f.Status == StatusDeleted {
		return fmt.Errorf("%w: already deleted", ErrInvalidTransition)
	}
	prev := f.Status
	f.PreviousStatus = &prev
	f.Status = StatusDeleted
	f.DeletedAt = &now
	f.Touch(now)
	return nil
}

// Restore brings a soft-deleted flash back to its previous status.
func (f *Flash) Restore(now time.Time) error {
	if f.Status != StatusDeleted {
		return fmt.Errorf("%w: not deleted", ErrInvalidTransition)
	}
	prev := StatusIncubating
	if f.PreviousStatus != nil && *f.PreviousStatus != StatusDeleted {
		prev = *f.PreviousStatus
	}
	f.Status = prev
	f.PreviousStatus = nil
	f.DeletedAt = nil
	f.Touch(now)
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
