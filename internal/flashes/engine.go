// Package flashes holds the in-memory projection of the user's flashes.
// Mutations update the projection immediately and are persisted to the
// local store and mutation queue by a background worker.
package flashes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/models"
)

var (
	ErrNotFound = errors.New("flash not found")
	ErrClosed   = errors.New("engine closed")
)

type Store interface {
	GetAll(ctx context.Context) ([]*models.Flash, error)
	Put(ctx context.Context, f *models.Flash) error
	Delete(ctx context.Context, id string) error
}

type Queue interface {
	Enqueue(ctx context.Context, item models.MutationQueueItem) error
}

type Engine struct {
	store    Store
	queue    Queue
	deviceID uuid.UUID
	log      logging.Logger
	now      func() time.Time

	mu     sync.RWMutex
	byID   map[string]*models.Flash
	userID *string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	// pending is unbounded so a stalled store never blocks a mutation.
	pendMu  sync.Mutex
	closed  bool
	pending []*Task
	wake    chan struct{}
	done    chan struct{}
}

// NewEngine loads the projection from store and starts the persister.
func NewEngine(ctx context.Context, store Store, queue Queue, deviceID uuid.UUID, userID *string, log logging.Logger) (*Engine, error) {
	if log == nil {
		log = logging.Nop()
	}
	e := &Engine{
		store:    store,
		queue:    queue,
		deviceID: deviceID,
		userID:   userID,
		log:      log.With("component", "flashes"),
		now:      models.Now,
		byID:     make(map[string]*models.Flash),
		subs:     make(map[int]chan Event),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	go e.persist()
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	all, err := e.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flashes: %w", err)
	}
	byID := make(map[string]*models.Flash, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	e.mu.Lock()
	e.byID = byID
	e.mu.Unlock()
	return nil
}

// SetUser sets the owner stamped on flashes created from now on.
func (e *Engine) SetUser(userID *string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if userID == nil {
		e.userID = nil
		return
	}
	u := *userID
	e.userID = &u
}

func (e *Engine) Get(id string) (models.Flash, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.byID[id]
	if !ok {
		return models.Flash{}, false
	}
	return f.Clone(), true
}

// List returns flashes oldest first, optionally filtered by status.
func (e *Engine) List(statuses ...models.Status) []models.Flash {
	want := make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	e.mu.RLock()
	out := make([]models.Flash, 0, len(e.byID))
	for _, f := range e.byID {
		if len(want) > 0 && !want[f.Status] {
			continue
		}
		out = append(out, f.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create captures a new incubating flash.
func (e *Engine) Create(content string) (models.Flash, *Task, error) {
	e.mu.Lock()
	f, err := models.NewFlash(content, e.deviceID, e.userID, e.now())
	if err != nil {
		e.mu.Unlock()
		return models.Flash{}, nil, err
	}
	e.byID[f.ID] = f
	snapshot := f.Clone()
	task := e.submit(models.ActionCreate, snapshot)
	e.mu.Unlock()

	e.publish(Event{Kind: EventCreated, Flash: snapshot})
	return snapshot, task, nil
}

func (e *Engine) Edit(id, content string) (models.Flash, *Task, error) {
	return e.update(id, func(f *models.Flash, now time.Time) error {
		return f.SetContent(content, now)
	})
}

func (e *Engine) Surface(id string) (models.Flash, *Task, error) {
	return e.update(id, func(f *models.Flash, now time.Time) error {
		return f.Advance(models.StatusSurfaced, now)
	})
}

func (e *Engine) Archive(id string) (models.Flash, *Task, error) {
	return e.update(id, func(f *models.Flash, now time.Time) error {
		return f.Advance(models.StatusArchived, now)
	})
}

// Delete moves the flash to the trash. The soft delete syncs as an update.
func (e *Engine) Delete(id string) (models.Flash, *Task, error) {
	return e.update(id, func(f *models.Flash, now time.Time) error {
		return f.SoftDelete(now)
	})
}

func (e *Engine) Restore(id string) (models.Flash, *Task, error) {
	return e.update(id, func(f *models.Flash, now time.Time) error {
		return f.Restore(now)
	})
}

// Purge permanently removes a trashed flash here and on the server.
func (e *Engine) Purge(id string) (*Task, error) {
	e.mu.Lock()
	f, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNotFound
	}
	if f.Status != models.StatusDeleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: only trashed flashes can be purged", models.ErrInvalidTransition)
	}
	delete(e.byID, id)
	snapshot := f.Clone()
	task := e.submit(models.ActionDelete, snapshot)
	e.mu.Unlock()

	e.publish(Event{Kind: EventRemoved, Flash: snapshot})
	return task, nil
}

func (e *Engine) update(id string, mutate func(f *models.Flash, now time.Time) error) (models.Flash, *Task, error) {
	e.mu.Lock()
	cur, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return models.Flash{}, nil, ErrNotFound
	}
	next := cur.Clone()
	if err := mutate(&next, e.now()); err != nil {
		e.mu.Unlock()
		return models.Flash{}, nil, err
	}
	e.byID[id] = &next
	snapshot := next.Clone()
	// Appended under the lock so tasks for one flash persist in mutation order.
	task := e.submit(models.ActionUpdate, snapshot)
	e.mu.Unlock()

	e.publish(Event{Kind: EventUpdated, Flash: snapshot})
	return snapshot, task, nil
}

// Merged applies records written to the store by a pull.
func (e *Engine) Merged(flashes []*models.Flash) {
	e.mu.Lock()
	snapshots := make([]models.Flash, 0, len(flashes))
	for _, f := range flashes {
		// An optimistic edit newer than the pulled copy stays in view.
		if cur, ok := e.byID[f.ID]; ok && cur.Version.After(f.Version) {
			continue
		}
		c := f.Clone()
		e.byID[f.ID] = &c
		snapshots = append(snapshots, c.Clone())
	}
	e.mu.Unlock()

	for _, f := range snapshots {
		e.publish(Event{Kind: EventMerged, Flash: f})
	}
}

// Reload replaces the projection with the store contents. Pending
// mutations are flushed first so none of them is lost from view.
func (e *Engine) Reload(ctx context.Context) {
	if err := e.Flush(ctx); err != nil {
		e.log.Warn(ctx, "flush before reload failed", "error", err)
	}
	if err := e.load(ctx); err != nil {
		e.log.Error(ctx, "reload failed", "error", err)
		return
	}
	e.publish(Event{Kind: EventReloaded})
}
