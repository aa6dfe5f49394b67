package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/repositories"
)

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("not the owner of this resource")
)

type CreateFlashInput struct {
	Content  string  `json:"content" validate:"required,max=280"`
	DeviceID string  `json:"deviceId" validate:"required,uuid"`
	UserID   *string `json:"userId" validate:"omitempty,min=1"`
}

// FlashService is the Remote Flash Service: idempotent upsert by id,
// user-scoped listing and retroactive device linking. caller is nil for
// anonymous requests.
type FlashService struct {
	flashRepo   repositories.FlashRepository
	deviceRepo  repositories.DeviceRepository
	sessionRepo repositories.SessionRepository
}

func NewFlashService(
	flashRepo repositories.FlashRepository,
	deviceRepo repositories.DeviceRepository,
	sessionRepo repositories.SessionRepository,
) *FlashService {
	return &FlashService{flashRepo: flashRepo, deviceRepo: deviceRepo, sessionRepo: sessionRepo}
}

// authorize lets anyone act on unowned data and only the owner on owned data.
func authorize(caller *TokenClaims, userID *string) error {
	if userID == nil {
		return nil
	}
	if caller == nil {
		return ErrUnauthorized
	}
	if caller.UserID() != *userID {
		return ErrForbidden
	}
	return nil
}

func (s *FlashService) Create(ctx context.Context, in CreateFlashInput, caller *TokenClaims) (*models.Flash, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := authorize(caller, in.UserID); err != nil {
		return nil, err
	}
	deviceID, err := uuid.Parse(in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: deviceId must be a uuid", ErrValidation)
	}

	now := models.Now()
	flash, err := models.NewFlash(in.Content, deviceID, in.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	flash.SyncedAt = &now

	if err := s.deviceRepo.Touch(ctx, deviceID); err != nil {
		return nil, err
	}
	if _, err := s.flashRepo.Upsert(ctx, flash); err != nil {
		return nil, err
	}
	return flash, nil
}

// Apply performs the remote effect of one mutation queue item. Replaying
// the same item is a no-op beyond refreshing syncedAt.
func (s *FlashService) Apply(ctx context.Context, item models.MutationQueueItem, caller *TokenClaims) error {
	if err := validateStruct(item); err != nil {
		return err
	}
	if item.Data.DeviceID == uuid.Nil {
		return fmt.Errorf("%w: data.deviceId is required", ErrValidation)
	}
	if err := authorize(caller, item.Data.UserID); err != nil {
		return err
	}

	existing, err := s.flashRepo.GetByID(ctx, item.Data.ID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	if existing != nil {
		if err := authorize(caller, existing.UserID); err != nil {
			return err
		}
		if existing.UserID == nil && existing.DeviceID != item.Data.DeviceID {
			return ErrForbidden
		}
	}

	if err := s.deviceRepo.Touch(ctx, item.Data.DeviceID); err != nil {
		return err
	}

	switch item.Action {
	case models.ActionDelete:
		if existing == nil {
			return nil
		}
		return s.flashRepo.Delete(ctx, item.Data.ID)
	default:
		flash := item.Data.Clone()
		if err := models.ValidateContent(flash.Content); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		now := models.Now()
		flash.SyncedAt = &now
		_, err := s.flashRepo.Upsert(ctx, &flash)
		return err
	}
}

func (s *FlashService) ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.Flash, error) {
	return s.flashRepo.ListByDevice(ctx, deviceID)
}

// ListByUser returns every record of userID across all devices.
func (s *FlashService) ListByUser(ctx context.Context, userID string, caller *TokenClaims) ([]*models.Flash, error) {
	if err := authorize(caller, &userID); err != nil {
		return nil, err
	}
	return s.flashRepo.ListByUser(ctx, userID)
}

// LinkDevice claims the device for the caller and re-assigns its unowned
// flashes to userID. A device linked to another account can be taken over
// once that account has no live session on it.
func (s *FlashService) LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string, caller *TokenClaims) (int, error) {
	if err := authorize(caller, &userID); err != nil {
		return 0, err
	}

	err := s.deviceRepo.Link(ctx, deviceID, caller.AccountID)
	if errors.Is(err, repositories.ErrForbidden) {
		err = s.takeOver(ctx, deviceID, caller.AccountID)
	}
	if errors.Is(err, repositories.ErrForbidden) {
		return 0, ErrForbidden
	}
	if err != nil {
		return 0, err
	}
	return s.flashRepo.LinkDevice(ctx, deviceID, userID)
}

func (s *FlashService) takeOver(ctx context.Context, deviceID, accountID uuid.UUID) error {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.AccountID == nil {
		return s.deviceRepo.Link(ctx, deviceID, accountID)
	}
	previous := *device.AccountID

	sessions, err := s.sessionRepo.ListByAccountID(ctx, previous)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, session := range sessions {
		if session.DeviceID == deviceID && !session.Expired(now) {
			return repositories.ErrForbidden
		}
	}
	return s.deviceRepo.Relink(ctx, deviceID, previous, accountID)
}

func (s *FlashService) ClearTrash(ctx context.Context, userID string, caller *TokenClaims) (int, error) {
	if err := authorize(caller, &userID); err != nil {
		return 0, err
	}
	return s.flashRepo.ClearTrash(ctx, userID)
}
