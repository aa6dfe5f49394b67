package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/prudhvinik1/flashsync/internal/services"
)

type ctxKey int

const claimsKey ctxKey = iota

// callerFrom returns the authenticated caller, or nil for anonymous requests.
func callerFrom(ctx context.Context) *services.TokenClaims {
	claims, _ := ctx.Value(claimsKey).(*services.TokenClaims)
	return claims
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Authenticate attaches the caller when a bearer token is present. A
// present but invalid token is rejected rather than treated as anonymous.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := h.auth.VerifyToken(r.Context(), token)
		if err != nil {
			h.fail(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, services.ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit caps requests per client IP. Limiter outages fail open.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "flash:" + clientIP(r)
		ok, err := h.limiter.Allow(r.Context(), key, h.rateLimit, rateWindow)
		if err != nil {
			h.log.Warn(r.Context(), "rate limiter unavailable", "error", err)
		} else if !ok {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address, or the proxied one when RealIP is installed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
