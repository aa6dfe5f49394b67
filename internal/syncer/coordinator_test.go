package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/identity"
	"github.com/prudhvinik1/flashsync/internal/localstore"
	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/queue"
	"github.com/prudhvinik1/flashsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu        sync.Mutex
	token     string
	pushed    []models.MutationQueueItem
	pushErr   func(item models.MutationQueueItem) error
	pushGate  chan struct{}
	pullCalls int
	pullGate  chan struct{}
	pullReady chan struct{}
	server    []*models.Flash
	linkCalls int
	trashed   int
}

func (f *fakeRemote) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeRemote) Push(ctx context.Context, item models.MutationQueueItem) error {
	if f.pushGate != nil {
		<-f.pushGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		if err := f.pushErr(item); err != nil {
			return err
		}
	}
	f.pushed = append(f.pushed, item)
	return nil
}

func (f *fakeRemote) Pull(ctx context.Context, userID string) ([]*models.Flash, error) {
	f.mu.Lock()
	f.pullCalls++
	gate, ready := f.pullGate, f.pullReady
	out := make([]*models.Flash, 0, len(f.server))
	for _, s := range f.server {
		c := s.Clone()
		out = append(out, &c)
	}
	f.mu.Unlock()

	if ready != nil {
		close(ready)
	}
	if gate != nil {
		<-gate
	}
	return out, nil
}

func (f *fakeRemote) LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls++
	return 0, nil
}

func (f *fakeRemote) ClearTrash(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trashed, nil
}

func (f *fakeRemote) Logout(ctx context.Context) error { return nil }

type harness struct {
	store    *localstore.Store
	queue    *queue.Queue
	identity *identity.Manager
	remote   *fakeRemote
	coord    *Coordinator
	deviceID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := localstore.Open(ctx, filepath.Join(t.TempDir(), "flash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		queue:    queue.New(store.DB()),
		identity: identity.NewManager(store),
		remote:   &fakeRemote{},
	}
	h.deviceID, err = h.identity.GetOrCreateDeviceID(ctx)
	require.NoError(t, err)
	h.coord = NewCoordinator(store, h.queue, h.identity, h.remote, Options{PushConcurrency: 4, Logger: logging.Nop()})
	return h
}

// record stores f locally and queues it, as the engine would.
func (h *harness) record(t *testing.T, action models.Action, f *models.Flash) models.MutationQueueItem {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, f))
	item := models.NewMutation(action, *f, models.Now())
	require.NoError(t, h.queue.Enqueue(ctx, item))
	return item
}

func (h *harness) newFlash(t *testing.T, content string) *models.Flash {
	t.Helper()
	f, err := models.NewFlash(content, h.deviceID, nil, models.Now())
	require.NoError(t, err)
	return f
}

func TestPush_ConfirmsAndMarksSynced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newFlash(t, "a")
	b := h.newFlash(t, "b")
	h.record(t, models.ActionCreate, a)
	h.record(t, models.ActionCreate, b)

	res, err := h.coord.Push(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Pushed)
	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	stored, err := h.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SyncedAt)
}

func TestPush_SameFlashInQueueOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.newFlash(t, "v1")
	first := h.record(t, models.ActionCreate, f)
	require.NoError(t, f.SetContent("v2", models.Now().Add(time.Millisecond)))
	second := h.record(t, models.ActionUpdate, f)

	_, err := h.coord.Push(ctx)
	require.NoError(t, err)

	require.Len(t, h.remote.pushed, 2)
	assert.Equal(t, first.ID, h.remote.pushed[0].ID)
	assert.Equal(t, second.ID, h.remote.pushed[1].ID)
}

func TestPush_FailurePolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rejected := h.newFlash(t, "rejected")
	forbidden := h.newFlash(t, "someone else's")
	flaky := h.newFlash(t, "flaky")
	expired := h.newFlash(t, "token expired")
	h.record(t, models.ActionCreate, rejected)
	h.record(t, models.ActionCreate, forbidden)
	flakyItem := h.record(t, models.ActionCreate, flaky)
	require.NoError(t, flaky.SetContent("flaky again", models.Now().Add(time.Millisecond)))
	h.record(t, models.ActionUpdate, flaky)
	expiredItem := h.record(t, models.ActionCreate, expired)

	h.remote.pushErr = func(item models.MutationQueueItem) error {
		switch item.Data.ID {
		case rejected.ID:
			return &remote.StatusError{Code: 400, Message: "content too long"}
		case forbidden.ID:
			return &remote.StatusError{Code: 403, Message: "not the owner of this resource"}
		case flaky.ID:
			return &remote.StatusError{Code: 503}
		case expired.ID:
			return &remote.StatusError{Code: 401}
		}
		return nil
	}

	res, err := h.coord.Push(ctx)

	require.NoError(t, err)
	assert.Equal(t, PushResult{Dropped: 2, Pending: 3}, res)
	items, err := h.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, flakyItem.ID, items[0].ID)
	assert.Equal(t, expiredItem.ID, items[2].ID)

	for _, id := range []string{rejected.ID, forbidden.ID} {
		stored, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, stored.SyncedAt)
	}

	// A second push does not resend the dropped items.
	h.remote.pushErr = nil
	res, err = h.coord.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Pushed: 3}, res)
	for _, item := range h.remote.pushed {
		assert.NotEqual(t, forbidden.ID, item.Data.ID)
	}
}

func TestPush_InProgressGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, models.ActionCreate, h.newFlash(t, "slow"))
	h.remote.pushGate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.coord.Push(ctx)
	}()
	require.Eventually(t, h.coord.pushing.Load, time.Second, time.Millisecond)

	_, err := h.coord.Push(ctx)
	assert.ErrorIs(t, err, ErrInProgress)

	close(h.remote.pushGate)
	<-done
	assert.Len(t, h.remote.pushed, 1)
}

func TestPull_RequiresUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Pull(context.Background())

	assert.ErrorIs(t, err, ErrNoUser)
	assert.Zero(t, h.remote.pullCalls)
}

func TestPull_MergesWithLastWriteWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := "user-1"
	_, err := h.identity.Link(ctx, user)
	require.NoError(t, err)

	base := models.Now()
	mk := func(content string, version time.Time) *models.Flash {
		f, err := models.NewFlash(content, uuid.New(), &user, base)
		require.NoError(t, err)
		f.Version = version
		return f
	}

	localNewer := mk("local newer", base.Add(2*time.Second))
	serverNewer := mk("local older", base)
	tie := mk("local tie", base)
	localOnly := mk("never pushed", base)
	require.NoError(t, h.store.PutAll(ctx, []*models.Flash{localNewer, serverNewer, tie, localOnly}))

	fromServer := func(f *models.Flash, content string, version time.Time) *models.Flash {
		c := f.Clone()
		c.Content, c.Version = content, version
		return &c
	}
	brandNew := mk("server only", base)
	h.remote.server = []*models.Flash{
		fromServer(localNewer, "server older", base),
		fromServer(serverNewer, "server newer", base.Add(time.Second)),
		fromServer(tie, "server tie", base),
		brandNew,
	}

	res, err := h.coord.Pull(ctx)

	require.NoError(t, err)
	assert.Equal(t, PullResult{Inserted: 1, Updated: 2, Kept: 1}, res)
	expect := map[string]string{
		localNewer.ID:  "local newer",
		serverNewer.ID: "server newer",
		tie.ID:         "server tie",
		localOnly.ID:   "never pushed",
		brandNew.ID:    "server only",
	}
	for id, content := range expect {
		got, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, content, got.Content, id)
	}
}

func TestPull_DiscardedAfterSignOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.identity.Link(ctx, "user-1")
	require.NoError(t, err)
	h.remote.server = []*models.Flash{h.newFlash(t, "should not land")}
	h.remote.pullGate = make(chan struct{})
	h.remote.pullReady = make(chan struct{})

	type outcome struct {
		res PullResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.coord.Pull(ctx)
		done <- outcome{res, err}
	}()
	<-h.remote.pullReady

	require.NoError(t, h.coord.SignOut(ctx))
	close(h.remote.pullGate)
	out := <-done

	require.NoError(t, out.err)
	assert.True(t, out.res.Discarded)
	all, err := h.store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOnOnline_IsIdempotentPerTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.identity.Link(ctx, "user-1")
	require.NoError(t, err)

	assert.True(t, h.coord.OnOnline(ctx))
	assert.False(t, h.coord.OnOnline(ctx))
	assert.Equal(t, 1, h.remote.pullCalls)

	h.coord.OnOffline(ctx)
	assert.True(t, h.coord.OnOnline(ctx))
	assert.Equal(t, 2, h.remote.pullCalls)
	assert.Equal(t, 2, h.remote.linkCalls)
}

func TestSignIn_AssignsLocalFlashesAndResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	anon := h.newFlash(t, "before login")
	h.record(t, models.ActionCreate, anon)
	var users []*string
	flushed := 0
	h.coord.opts.OnUser = func(u *string) { users = append(users, u) }
	h.coord.opts.Flush = func(context.Context) error { flushed++; return nil }

	creds := models.Credentials{UserID: "user-1", Token: "tok", ExpiresAt: models.Now().Add(time.Hour)}
	require.NoError(t, h.coord.SignIn(ctx, creds))

	got, err := h.store.Get(ctx, anon.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)
	items, err := h.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Data.UserID)
	assert.Equal(t, "user-1", *items[0].Data.UserID)
	assert.Equal(t, 1, flushed)
	require.Len(t, users, 1)
	assert.Equal(t, "user-1", *users[0])
	assert.Equal(t, 1, h.remote.linkCalls)
	assert.Equal(t, 1, h.remote.pullCalls)

	// A fresh coordinator over the same store picks the session back up.
	h.remote.token = ""
	fresh := NewCoordinator(h.store, h.queue, h.identity, h.remote, Options{})
	ok, err := fresh.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", h.remote.token)

	require.NoError(t, h.coord.SignOut(ctx))
	require.Len(t, users, 2)
	assert.Nil(t, users[1])
	ok, err = fresh.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearTrash_RemovesLocalDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := "user-1"
	_, err := h.identity.Link(ctx, user)
	require.NoError(t, err)

	f, err := models.NewFlash("trash me", h.deviceID, &user, models.Now())
	require.NoError(t, err)
	require.NoError(t, f.SoftDelete(models.Now().Add(time.Millisecond)))
	require.NoError(t, h.store.Put(ctx, f))
	h.remote.trashed = 1

	n, err := h.coord.ClearTrash(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.store.Get(ctx, f.ID)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

type probe struct{ err error }

func (p *probe) Health(context.Context) error { return p.err }

func TestMonitor_DrivesTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := &probe{err: context.DeadlineExceeded}
	m := NewMonitor(p, h.coord, time.Second, logging.Nop())

	assert.False(t, m.Tick(ctx))
	assert.False(t, h.coord.Online())

	p.err = nil
	assert.True(t, m.Tick(ctx))
	assert.True(t, h.coord.Online())
}
