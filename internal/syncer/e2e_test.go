package syncer

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/flashes"
	"github.com/prudhvinik1/flashsync/internal/handlers"
	"github.com/prudhvinik1/flashsync/internal/identity"
	"github.com/prudhvinik1/flashsync/internal/localstore"
	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/queue"
	"github.com/prudhvinik1/flashsync/internal/remote"
	"github.com/prudhvinik1/flashsync/internal/repositories"
	"github.com/prudhvinik1/flashsync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "password123"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	devices := repositories.NewMemoryDeviceRepository()
	sessions := repositories.NewMemorySessionRepository()
	auth := services.NewAuthService(
		repositories.NewMemoryAccountRepository(),
		devices,
		sessions,
		"test-secret",
		time.Hour,
	)
	svc := services.NewFlashService(repositories.NewMemoryFlashRepository(), devices, sessions)
	h := handlers.NewHandler(auth, svc, repositories.NewMemoryRateLimiter(), 1000, logging.Nop())
	srv := httptest.NewServer(handlers.NewRouter(h, false))
	t.Cleanup(srv.Close)
	return srv
}

type device struct {
	id     uuid.UUID
	store  *localstore.Store
	queue  *queue.Queue
	client *remote.Client
	engine *flashes.Engine
	coord  *Coordinator
}

func newDevice(t *testing.T, serverURL string) *device {
	t.Helper()
	ctx := context.Background()
	store, err := localstore.Open(ctx, filepath.Join(t.TempDir(), "flash.db"))
	require.NoError(t, err)
	q := queue.New(store.DB())
	ident := identity.NewManager(store)
	id, err := ident.GetOrCreateDeviceID(ctx)
	require.NoError(t, err)

	engine, err := flashes.NewEngine(ctx, store, q, id, nil, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		engine.Close(context.Background())
		store.Close()
	})

	client := remote.NewClient(nil, serverURL)
	coord := NewCoordinator(store, q, ident, client, Options{
		PushConcurrency: 4,
		OnMerged:        engine.Merged,
		OnReload:        engine.Reload,
		OnUser:          engine.SetUser,
		Flush:           engine.Flush,
	})
	return &device{id: id, store: store, queue: q, client: client, engine: engine, coord: coord}
}

func (d *device) signIn(t *testing.T, email string, register bool) string {
	t.Helper()
	ctx := context.Background()
	if register {
		_, err := d.client.Register(ctx, email, testPassword)
		require.NoError(t, err)
	}
	resp, err := d.client.Login(ctx, email, testPassword, d.id)
	require.NoError(t, err)

	creds := models.Credentials{UserID: resp.UserID, Token: resp.Token, ExpiresAt: resp.ExpiresAt}
	require.NoError(t, d.coord.SignIn(ctx, creds))
	return resp.UserID
}

func (d *device) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.engine.Flush(ctx))
}

type snapshot struct {
	ID      string
	Content string
	Status  models.Status
	Version int64
}

func (d *device) snapshot(t *testing.T) []snapshot {
	t.Helper()
	all, err := d.store.GetAll(context.Background())
	require.NoError(t, err)
	out := make([]snapshot, 0, len(all))
	for _, f := range all {
		out = append(out, snapshot{f.ID, f.Content, f.Status, f.Version.UnixMilli()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func TestScenario_OfflineCaptureReachesSecondDevice(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	a := newDevice(t, srv.URL)
	b := newDevice(t, srv.URL)
	a.signIn(t, "writer@example.com", true)

	// Device A captures while offline.
	f1, _, err := a.engine.Create("idea one")
	require.NoError(t, err)
	a.flush(t)

	// A comes online and pushes.
	require.True(t, a.coord.OnOnline(ctx))
	pending, err := a.queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	// B signs in as the same user, which pulls.
	b.signIn(t, "writer@example.com", false)

	got, err := b.store.Get(ctx, f1.ID)
	require.NoError(t, err)
	assert.Equal(t, "idea one", got.Content)
	assert.Equal(t, models.StatusIncubating, got.Status)

	viewed, ok := b.engine.Get(f1.ID)
	require.True(t, ok)
	assert.Equal(t, "idea one", viewed.Content)
}

func TestConvergence_TwoDevicesEditOffline(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	a := newDevice(t, srv.URL)
	b := newDevice(t, srv.URL)
	a.signIn(t, "both@example.com", true)
	b.signIn(t, "both@example.com", false)

	// ARRANGE: a shared record both devices have.
	shared, _, err := a.engine.Create("shared")
	require.NoError(t, err)
	a.flush(t)
	_, err = a.coord.Push(ctx)
	require.NoError(t, err)
	_, err = b.coord.Pull(ctx)
	require.NoError(t, err)

	// Both go offline and edit: disjoint creates plus an overlapping edit.
	_, _, err = a.engine.Create("only on a")
	require.NoError(t, err)
	_, _, err = a.engine.Edit(shared.ID, "edited on a")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, _, err = b.engine.Create("only on b")
	require.NoError(t, err)
	_, _, err = b.engine.Surface(shared.ID)
	require.NoError(t, err)
	a.flush(t)
	b.flush(t)

	// ACT: one push and one pull each.
	_, err = a.coord.Push(ctx)
	require.NoError(t, err)
	_, err = b.coord.Push(ctx)
	require.NoError(t, err)
	_, err = a.coord.Pull(ctx)
	require.NoError(t, err)
	_, err = b.coord.Pull(ctx)
	require.NoError(t, err)

	// ASSERT
	snapA, snapB := a.snapshot(t), b.snapshot(t)
	require.Len(t, snapA, 3)
	assert.Equal(t, snapA, snapB)

	winner, err := a.store.Get(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSurfaced, winner.Status)
	assert.Equal(t, "shared", winner.Content)
}

func TestSignIn_LinksAnonymousCapture(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	a := newDevice(t, srv.URL)

	for _, c := range []string{"one", "two", "three"} {
		_, _, err := a.engine.Create(c)
		require.NoError(t, err)
	}
	a.flush(t)
	require.True(t, a.coord.OnOnline(ctx))

	userID := a.signIn(t, "late@example.com", true)

	server, err := a.client.Pull(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, server, 3)
	for _, f := range a.engine.List() {
		require.NotNil(t, f.UserID)
		assert.Equal(t, userID, *f.UserID)
	}
}

func TestSignIn_QueuedAnonymousCaptureReachesSecondDevice(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	a := newDevice(t, srv.URL)
	b := newDevice(t, srv.URL)

	// Captured offline, still queued when the user signs in.
	f, _, err := a.engine.Create("captured offline before login")
	require.NoError(t, err)
	userID := a.signIn(t, "queued@example.com", true)

	items, err := a.queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Data.UserID)
	assert.Equal(t, userID, *items[0].Data.UserID)

	require.True(t, a.coord.OnOnline(ctx))
	pending, err := a.queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	server, err := a.client.Pull(ctx, userID)
	require.NoError(t, err)
	require.Len(t, server, 1)
	assert.Equal(t, f.ID, server[0].ID)

	b.signIn(t, "queued@example.com", false)
	got, err := b.store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "captured offline before login", got.Content)
	require.NotNil(t, got.UserID)
	assert.Equal(t, userID, *got.UserID)
}

func TestSignIn_CapturesAfterSignInCarryUser(t *testing.T) {
	srv := newServer(t)
	a := newDevice(t, srv.URL)
	userID := a.signIn(t, "stamped@example.com", true)

	f, _, err := a.engine.Create("mine from the start")
	require.NoError(t, err)
	require.NotNil(t, f.UserID)
	assert.Equal(t, userID, *f.UserID)

	require.NoError(t, a.coord.SignOut(context.Background()))
	anon, _, err := a.engine.Create("anonymous again")
	require.NoError(t, err)
	assert.Nil(t, anon.UserID)
}

func TestSharedDevice_ForeignEditIsDroppedNotRetried(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	a := newDevice(t, srv.URL)
	a.signIn(t, "owner@example.com", true)
	f, _, err := a.engine.Create("owner's idea")
	require.NoError(t, err)
	a.flush(t)
	require.True(t, a.coord.OnOnline(ctx))
	require.NoError(t, a.coord.SignOut(ctx))

	// The next person signs in on the same device; the relink is allowed.
	a.signIn(t, "guest@example.com", true)
	id, err := identity.NewManager(a.store).Current(ctx)
	require.NoError(t, err)
	_, err = a.client.LinkDevice(ctx, a.id, *id.UserID)
	require.NoError(t, err)

	_, _, err = a.engine.Edit(f.ID, "guest overwrite")
	require.NoError(t, err)
	a.flush(t)

	res, err := a.coord.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Dropped: 1}, res)
	pending, err := a.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	res, err = a.coord.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{}, res)
}
