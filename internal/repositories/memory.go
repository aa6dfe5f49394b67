package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/models"
)

// The in-memory repositories back STORAGE_DRIVER=memory and the handler and
// sync tests. They follow the same semantics as the Postgres and Redis ones.

type MemoryFlashRepository struct {
	mu      sync.Mutex
	flashes map[string]models.Flash
}

func NewMemoryFlashRepository() *MemoryFlashRepository {
	return &MemoryFlashRepository{flashes: make(map[string]models.Flash)}
}

func (r *MemoryFlashRepository) GetByID(_ context.Context, id string) (*models.Flash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flash, ok := r.flashes[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := flash.Clone()
	return &out, nil
}

func (r *MemoryFlashRepository) Upsert(_ context.Context, flash *models.Flash) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := flash.Clone()
	normalizeTimes(&incoming)

	existing, ok := r.flashes[incoming.ID]
	if ok {
		if existing.Version.After(incoming.Version) {
			return false, nil
		}
		incoming.DeviceID = existing.DeviceID
		incoming.CreatedAt = existing.CreatedAt
		if incoming.UserID == nil {
			incoming.UserID = existing.UserID
		}
	}
	r.flashes[incoming.ID] = incoming
	return true, nil
}

func (r *MemoryFlashRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.flashes, id)
	return nil
}

func (r *MemoryFlashRepository) ListByDevice(_ context.Context, deviceID uuid.UUID) ([]*models.Flash, error) {
	return r.filter(func(f models.Flash) bool { return f.DeviceID == deviceID }), nil
}

func (r *MemoryFlashRepository) ListByUser(_ context.Context, userID string) ([]*models.Flash, error) {
	return r.filter(func(f models.Flash) bool { return f.UserID != nil && *f.UserID == userID }), nil
}

func (r *MemoryFlashRepository) filter(keep func(models.Flash) bool) []*models.Flash {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.Flash{}
	for _, f := range r.flashes {
		if keep(f) {
			c := f.Clone()
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryFlashRepository) LinkDevice(_ context.Context, deviceID uuid.UUID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, f := range r.flashes {
		if f.DeviceID == deviceID && f.UserID == nil {
			u := userID
			f.UserID = &u
			r.flashes[id] = f
			count++
		}
	}
	return count, nil
}

func (r *MemoryFlashRepository) ClearTrash(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, f := range r.flashes {
		if f.Status == models.StatusDeleted && f.UserID != nil && *f.UserID == userID {
			delete(r.flashes, id)
			count++
		}
	}
	return count, nil
}

type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]models.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[uuid.UUID]models.Account)}
}

func (r *MemoryAccountRepository) Create(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	account.ID = uuid.New()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.ID] = *account
	return nil
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || account.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, account := range r.accounts {
		if account.DeletedAt == nil && strings.EqualFold(account.Email, email) {
			a := account
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

type MemoryDeviceRepository struct {
	mu      sync.Mutex
	devices map[uuid.UUID]models.Device
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[uuid.UUID]models.Device)}
}

func (r *MemoryDeviceRepository) touch(id uuid.UUID, now time.Time) models.Device {
	device, ok := r.devices[id]
	if !ok {
		device = models.Device{ID: id, CreatedAt: now}
	}
	device.LastSeenAt = &now
	return device
}

func (r *MemoryDeviceRepository) Touch(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[id] = r.touch(id, time.Now().UTC())
	return nil
}

func (r *MemoryDeviceRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &device, nil
}

func (r *MemoryDeviceRepository) Link(_ context.Context, id, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	device := r.touch(id, now)
	if device.AccountID != nil && *device.AccountID != accountID {
		return ErrForbidden
	}
	if device.LinkedAt == nil {
		device.LinkedAt = &now
	}
	device.AccountID = &accountID
	r.devices[id] = device
	return nil
}

func (r *MemoryDeviceRepository) Relink(_ context.Context, id, from, to uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[id]
	if !ok || device.AccountID == nil || *device.AccountID != from {
		return ErrForbidden
	}
	now := time.Now().UTC()
	device.AccountID = &to
	device.LinkedAt = &now
	device.LastSeenAt = &now
	r.devices[id] = device
	return nil
}

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]models.Session)}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = *session
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Expired(time.Now()) {
		delete(r.sessions, id)
		return nil, ErrNotFound
	}
	return &session, nil
}

func (r *MemorySessionRepository) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []*models.Session
	for id, session := range r.sessions {
		if session.AccountID != accountID {
			continue
		}
		if session.Expired(now) {
			delete(r.sessions, id)
			continue
		}
		s := session
		out = append(out, &s)
	}
	return out, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) DeleteAllForAccount(_ context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		if session.AccountID == accountID {
			delete(r.sessions, id)
		}
	}
	return nil
}

type MemoryRateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{now: time.Now, windows: make(map[string]memoryWindow)}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.windows[key]
	if now.Sub(w.start) >= window {
		w = memoryWindow{start: now}
	}
	w.count++
	r.windows[key] = w
	return w.count <= limit, nil
}
