// Package remote is the device-side client of the Remote Flash Service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/models"
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
)

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote status %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	}
	return false
}

// IsPermanent reports a request the server rejected as invalid. Retrying
// the same payload can never succeed.
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusBadRequest || se.Code == http.StatusUnprocessableEntity
}

type Client struct {
	httpClient *http.Client
	baseURL    string

	mu    sync.RWMutex
	token string
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	DeviceID  uuid.UUID `json:"deviceId"`
}

type errorBody struct {
	Error string `json:"error"`
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// SetToken sets the bearer token sent with every request. Empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Push sends one mutation queue item.
func (c *Client) Push(ctx context.Context, item models.MutationQueueItem) error {
	return c.do(ctx, http.MethodPost, "/sync", item, nil)
}

// Pull returns every server record of userID.
func (c *Client) Pull(ctx context.Context, userID string) ([]*models.Flash, error) {
	var out struct {
		ServerFlashes []*models.Flash `json:"serverFlashes"`
		Conflicts     []*models.Flash `json:"conflicts"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/pull?userId="+url.QueryEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return out.ServerFlashes, nil
}

func (c *Client) LinkDevice(ctx context.Context, deviceID uuid.UUID, userID string) (int, error) {
	req := map[string]string{"deviceId": deviceID.String(), "userId": userID}
	var out struct {
		LinkedFlashesCount int `json:"linkedFlashesCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/device/link", req, &out); err != nil {
		return 0, err
	}
	return out.LinkedFlashesCount, nil
}

func (c *Client) ClearTrash(ctx context.Context, userID string) (int, error) {
	var out struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/trash/clear", map[string]string{"userId": userID}, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// ListByDevice returns the server copies of deviceID's flashes.
func (c *Client) ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.Flash, error) {
	var out struct {
		Data []*models.Flash `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/flash?deviceId="+deviceID.String(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Register creates an account and returns its user id.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	req := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login does not install the returned token; callers decide when to.
func (c *Client) Login(ctx context.Context, email, password string, deviceID uuid.UUID) (*LoginResponse, error) {
	req := map[string]string{"email": email, "password": password, "deviceId": deviceID.String()}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// LogoutAll revokes every session of the signed-in account.
func (c *Client) LogoutAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout-all", nil, nil)
}

type Account struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health succeeds when the service answers /health with 200.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(eb.Error)}
}
