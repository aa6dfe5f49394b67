package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/services"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// accountResponse is returned by register and by /auth/me.
type accountResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	account, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{UserID: account.ID.String(), Email: account.Email})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "deviceId must be a uuid")
		return
	}

	resp, err := h.auth.Login(r.Context(), services.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		DeviceID: deviceID,
	})
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), callerFrom(r.Context())); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.LogoutAll(r.Context(), callerFrom(r.Context())); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.auth.Account(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{UserID: account.ID.String(), Email: account.Email})
}
