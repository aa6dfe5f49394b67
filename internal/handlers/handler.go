package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/repositories"
	"github.com/prudhvinik1/flashsync/internal/services"
)

type Handler struct {
	auth      *services.AuthService
	flashes   *services.FlashService
	limiter   repositories.RateLimiter
	rateLimit int
	log       logging.Logger
}

func NewHandler(
	auth *services.AuthService,
	flashes *services.FlashService,
	limiter repositories.RateLimiter,
	rateLimitPerMinute int,
	log logging.Logger,
) *Handler {
	return &Handler{
		auth:      auth,
		flashes:   flashes,
		limiter:   limiter,
		rateLimit: rateLimitPerMinute,
		log:       log,
	}
}

const rateWindow = time.Minute

// fail writes err with its mapped status and logs server-side failures.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(ctx, "request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
