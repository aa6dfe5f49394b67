package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/repositories"
	"github.com/prudhvinik1/flashsync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, rateLimit int) *httptest.Server {
	t.Helper()
	return newServer(t, rateLimit, false)
}

func newServer(t *testing.T, rateLimit int, trustProxy bool) *httptest.Server {
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
	flashes := services.NewFlashService(repositories.NewMemoryFlashRepository(), devices, sessions)
	h := NewHandler(auth, flashes, repositories.NewMemoryRateLimiter(), rateLimit, logging.Nop())

	srv := httptest.NewServer(NewRouter(h, trustProxy))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func signIn(t *testing.T, srv *httptest.Server, email string, deviceID uuid.UUID) services.LoginResponse {
	t.Helper()
	status := call(t, srv, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "password123",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var resp services.LoginResponse
	status = call(t, srv, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": "password123", "deviceId": deviceID.String(),
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 100)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateFlash_ContentBoundary(t *testing.T) {
	srv := newTestServer(t, 100)
	deviceID := uuid.New().String()

	var created struct {
		Data models.Flash `json:"data"`
	}
	status := call(t, srv, http.MethodPost, "/flash", "", map[string]any{
		"content": strings.Repeat("é", 280), "deviceId": deviceID,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.StatusIncubating, created.Data.Status)
	assert.NotNil(t, created.Data.SyncedAt)

	status = call(t, srv, http.MethodPost, "/flash", "", map[string]any{
		"content": strings.Repeat("a", 281), "deviceId": deviceID,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = call(t, srv, http.MethodPost, "/flash", "", map[string]any{
		"content": "", "deviceId": deviceID,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var list struct {
		Data []models.Flash `json:"data"`
	}
	status = call(t, srv, http.MethodGet, "/flash?deviceId="+deviceID, "", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list.Data, 1)
}

func TestCreateFlash_RateLimited(t *testing.T) {
	srv := newTestServer(t, 2)
	body := map[string]any{"content": "hi", "deviceId": uuid.New().String()}

	assert.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/flash", "", body, nil))
	assert.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/flash", "", body, nil))
	assert.Equal(t, http.StatusTooManyRequests, call(t, srv, http.MethodPost, "/flash", "", body, nil))
}

func postFlashFrom(t *testing.T, srv *httptest.Server, forwardedFor string) int {
	t.Helper()
	body := strings.NewReader(`{"content":"hi","deviceId":"` + uuid.NewString() + `"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/flash", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestCreateFlash_RateLimitIgnoresForwardedForByDefault(t *testing.T) {
	srv := newTestServer(t, 2)

	assert.Equal(t, http.StatusCreated, postFlashFrom(t, srv, "10.0.0.1"))
	assert.Equal(t, http.StatusCreated, postFlashFrom(t, srv, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, postFlashFrom(t, srv, "10.0.0.3"))
}

func TestCreateFlash_RateLimitPerForwardedClientBehindProxy(t *testing.T) {
	srv := newServer(t, 1, true)

	assert.Equal(t, http.StatusCreated, postFlashFrom(t, srv, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, postFlashFrom(t, srv, "10.0.0.1"))
	assert.Equal(t, http.StatusCreated, postFlashFrom(t, srv, "10.0.0.2"))
}

func TestAuth_MeAndLogoutAll(t *testing.T) {
	srv := newTestServer(t, 100)
	phone := signIn(t, srv, "everywhere@example.com", uuid.New())

	var laptop services.LoginResponse
	status := call(t, srv, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "everywhere@example.com", "password": "password123", "deviceId": uuid.NewString(),
	}, &laptop)
	require.Equal(t, http.StatusOK, status)

	var me accountResponse
	status = call(t, srv, http.MethodGet, "/auth/me", laptop.Token, nil, &me)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "everywhere@example.com", me.Email)
	assert.Equal(t, laptop.UserID, me.UserID)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", "", nil, nil))

	// ACT: signing out everywhere from the phone revokes the laptop too
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/auth/logout-all", phone.Token, nil, nil))

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", laptop.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", phone.Token, nil, nil))
}

func TestPull_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, 100)

	assert.Equal(t, http.StatusUnauthorized,
		call(t, srv, http.MethodGet, "/sync/pull?userId=someone", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized,
		call(t, srv, http.MethodGet, "/sync/pull?userId=someone", "not-a-jwt", nil, nil))

	session := signIn(t, srv, "alice@example.com", uuid.New())
	assert.Equal(t, http.StatusForbidden,
		call(t, srv, http.MethodGet, "/sync/pull?userId=someone-else", session.Token, nil, nil))

	var pulled pullResponse
	status := call(t, srv, http.MethodGet, "/sync/pull?userId="+session.UserID, session.Token, nil, &pulled)
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, pulled.ServerFlashes)
	assert.Empty(t, pulled.Conflicts)
}

func TestSyncThenLinkDevice(t *testing.T) {
	srv := newTestServer(t, 100)
	deviceID := uuid.New()
	now := models.Now()

	// ARRANGE: three anonymous flashes pushed through /sync
	for i := 0; i < 3; i++ {
		f, err := models.NewFlash("offline thought", deviceID, nil, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		item := models.NewMutation(models.ActionCreate, *f, now)
		require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/sync", "", item, nil))
	}

	// ACT
	session := signIn(t, srv, "bob@example.com", deviceID)
	var linked linkDeviceResponse
	status := call(t, srv, http.MethodPost, "/device/link", session.Token, linkDeviceRequest{
		DeviceID: deviceID.String(), UserID: session.UserID,
	}, &linked)

	// ASSERT
	require.Equal(t, http.StatusOK, status)
	assert.True(t, linked.Success)
	assert.Equal(t, 3, linked.LinkedFlashesCount)

	var pulled pullResponse
	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodGet, "/sync/pull?userId="+session.UserID, session.Token, nil, &pulled))
	assert.Len(t, pulled.ServerFlashes, 3)
}

func TestSync_RejectsOwnedMutationWithoutAuth(t *testing.T) {
	srv := newTestServer(t, 100)
	owner := "user-1"
	f, err := models.NewFlash("mine", uuid.New(), &owner, models.Now())
	require.NoError(t, err)

	status := call(t, srv, http.MethodPost, "/sync", "", models.NewMutation(models.ActionCreate, *f, models.Now()), nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = call(t, srv, http.MethodPost, "/sync", "", map[string]any{"id": "x", "action": "explode"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestClearTrash(t *testing.T) {
	srv := newTestServer(t, 100)
	deviceID := uuid.New()
	session := signIn(t, srv, "carol@example.com", deviceID)
	now := models.Now()

	f, err := models.NewFlash("gone", deviceID, &session.UserID, now)
	require.NoError(t, err)
	require.NoError(t, f.SoftDelete(now.Add(time.Millisecond)))
	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodPost, "/sync", session.Token, models.NewMutation(models.ActionUpdate, *f, now), nil))

	var cleared clearTrashResponse
	status := call(t, srv, http.MethodPost, "/trash/clear", session.Token, clearTrashRequest{UserID: session.UserID}, &cleared)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, cleared.DeletedCount)
}

func TestLogout_RevokesToken(t *testing.T) {
	srv := newTestServer(t, 100)
	session := signIn(t, srv, "dave@example.com", uuid.New())

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/auth/logout", session.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized,
		call(t, srv, http.MethodGet, "/sync/pull?userId="+session.UserID, session.Token, nil, nil))
}
