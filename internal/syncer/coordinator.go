// Package syncer moves mutations between the device and the Remote Flash
// Service: push drains the queue, pull merges the user's server records
// through the last-write-wins resolver.
package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/remote"
)

var (
	ErrNoUser     = errors.New("no signed-in user")
	ErrInProgress = errors.New("sync already in progress")
)

type Store interface {
	Get(ctx context.Context, id string) (*models.Flash, error)
	PutAll(ctx context.Context, flashes []*models.Flash) error
	AssignUser(ctx context.Context, deviceID uuid.UUID, userID string) (int, error)
	MarkSynced(ctx context.Context, id string, version, at time.Time) (bool, error)
	DeleteTrash(ctx context.Context, userID string) (int, error)
	Credentials(ctx context.Context) (*models.Credentials, error)
	PutCredentials(ctx context.Context, c *models.Credentials) error
	ClearCredentials(ctx context.Context) error
}

type Queue interface {
	Drain(ctx context.Context) ([]models.MutationQueueItem, error)
	Confirm(ctx context.Context, id string) error
	AssignUser(ctx context.Context, deviceID uuid.UUID, userID string) (int, error)
}

type Identity interface {
	Current(ctx context.Context) (*models.DeviceIdentity, error)
	Link(ctx context.Context, userID string) (*models.DeviceIdentity, error)
	Unlink(ctx context.Context) error
}

type Remote interface {
	SetToken(token string)
	Push(ctx context.Context, item models.MutationQueueItem) error
	Pull(ctx context.Context, userID string) ([]*models.Flash, error)
	LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string) (int, error)
	ClearTrash(ctx context.Context, userID string) (int, error)
	Logout(ctx context.Context) error
}

type Options struct {
	PushConcurrency int
	Logger          logging.Logger
	// OnMerged receives the records a pull wrote locally.
	OnMerged func(flashes []*models.Flash)
	// OnReload is called after bulk local changes such as sign-in reassignment.
	OnReload func(ctx context.Context)
	// OnUser receives the signed-in user, or nil on sign-out.
	OnUser func(userID *string)
	// Flush waits until local writes already made have reached the store
	// and queue.
	Flush func(ctx context.Context) error
}

type Coordinator struct {
	store    Store
	queue    Queue
	identity Identity
	remote   Remote
	opts     Options
	log      logging.Logger
	now      func() time.Time

	pushing   atomic.Bool
	pulling   atomic.Bool
	pullAgain atomic.Bool
	online    atomic.Bool
	// session changes on every sign-in and sign-out; pulls started under an
	// older session are discarded.
	session atomic.Uint64
}

func NewCoordinator(store Store, queue Queue, identity Identity, rem Remote, opts Options) *Coordinator {
	if opts.PushConcurrency < 1 {
		opts.PushConcurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Coordinator{
		store:    store,
		queue:    queue,
		identity: identity,
		remote:   rem,
		opts:     opts,
		log:      opts.Logger.With("component", "syncer"),
		now:      models.Now,
	}
}

// Resume installs cached credentials on the remote client. It reports
// whether a usable session was found.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil || creds.Expired(c.now()) {
		return false, nil
	}
	id, err := c.identity.Current(ctx)
	if err != nil {
		return false, err
	}
	if id.UserID == nil || *id.UserID != creds.UserID {
		return false, nil
	}
	c.remote.SetToken(creds.Token)
	return true, nil
}

func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// OnOnline handles an offline to online transition: relink, push, then a
// single pull. Repeated calls for the same transition do nothing and
// report false.
func (c *Coordinator) OnOnline(ctx context.Context) bool {
	if c.online.Swap(true) {
		return false
	}
	c.log.Info(ctx, "online")

	if id, err := c.identity.Current(ctx); err == nil && id.UserID != nil {
		if _, err := c.remote.LinkDevice(ctx, id.DeviceID, *id.UserID); err != nil {
			c.log.Warn(ctx, "device link failed", "error", err)
		}
	}
	if _, err := c.Push(ctx); err != nil && !errors.Is(err, ErrInProgress) {
		c.log.Warn(ctx, "push failed", "error", err)
	}
	if _, err := c.Pull(ctx); err != nil && !errors.Is(err, ErrNoUser) && !errors.Is(err, ErrInProgress) {
		c.log.Warn(ctx, "pull failed", "error", err)
	}
	return true
}

func (c *Coordinator) OnOffline(ctx context.Context) {
	if c.online.Swap(false) {
		c.log.Info(ctx, "offline")
	}
}

// SignIn links this device to creds.UserID: local identity, remote claim,
// reassignment of anonymous flashes and their queued mutations, then a pull.
func (c *Coordinator) SignIn(ctx context.Context, creds models.Credentials) error {
	c.session.Add(1)
	if err := c.store.PutCredentials(ctx, &creds); err != nil {
		return err
	}
	c.remote.SetToken(creds.Token)

	id, err := c.identity.Link(ctx, creds.UserID)
	if err != nil {
		return err
	}
	c.setUser(&creds.UserID)

	linked, err := c.remote.LinkDevice(ctx, id.DeviceID, creds.UserID)
	if err != nil {
		// Retried on the next online transition.
		c.log.Warn(ctx, "device link failed", "error", err)
	} else {
		c.log.Info(ctx, "device linked", "user_id", creds.UserID, "server_flashes", linked)
	}

	if err := c.claim(ctx, id.DeviceID, creds.UserID); err != nil {
		return err
	}
	if c.opts.OnReload != nil {
		c.opts.OnReload(ctx)
	}

	if _, err := c.Pull(ctx); err != nil && !errors.Is(err, ErrInProgress) {
		c.log.Warn(ctx, "pull after sign-in failed", "error", err)
	}
	return nil
}

// claim assigns userID to this device's anonymous flashes, both the local
// rows and the snapshots still waiting in the queue.
func (c *Coordinator) claim(ctx context.Context, deviceID uuid.UUID, userID string) error {
	if c.opts.Flush != nil {
		if err := c.opts.Flush(ctx); err != nil {
			c.log.Warn(ctx, "flush before claim failed", "error", err)
		}
	}
	n, err := c.store.AssignUser(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	queued, err := c.queue.AssignUser(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	c.log.Debug(ctx, "anonymous flashes claimed", "local", n, "queued", queued)
	return nil
}

func (c *Coordinator) setUser(userID *string) {
	if c.opts.OnUser != nil {
		c.opts.OnUser(userID)
	}
}

// SignOut clears the user from this device. Local flashes stay.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.session.Add(1)
	if err := c.remote.Logout(ctx); err != nil {
		c.log.Warn(ctx, "remote logout failed", "error", err)
	}
	c.remote.SetToken("")
	c.setUser(nil)
	if err := c.store.ClearCredentials(ctx); err != nil {
		return err
	}
	return c.identity.Unlink(ctx)
}

// ClearTrash purges the user's deleted flashes on the server and then locally.
func (c *Coordinator) ClearTrash(ctx context.Context) (int, error) {
	userID, err := c.userID(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.remote.ClearTrash(ctx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := c.store.DeleteTrash(ctx, userID); err != nil {
		return n, err
	}
	if c.opts.OnReload != nil {
		c.opts.OnReload(ctx)
	}
	return n, nil
}

func (c *Coordinator) userID(ctx context.Context) (string, error) {
	id, err := c.identity.Current(ctx)
	if err != nil {
		return "", err
	}
	if id.UserID == nil {
		return "", ErrNoUser
	}
	return *id.UserID, nil
}

// Run pushes on every tick while online. Connectivity itself is driven by
// a Monitor or by explicit OnOnline/OnOffline calls.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !c.Online() {
				continue
			}
			if _, err := c.Push(ctx); err != nil && !errors.Is(err, ErrInProgress) {
				c.log.Warn(ctx, "push failed", "error", err)
			}
		}
	}
}

var _ Remote = (*remote.Client)(nil)
