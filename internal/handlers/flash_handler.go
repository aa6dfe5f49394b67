package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/services"
)

type dataResponse struct {
	Data any `json:"data"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type pullResponse struct {
	ServerFlashes []*models.Flash `json:"serverFlashes"`
	Conflicts     []*models.Flash `json:"conflicts"`
}

type linkDeviceRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
}

type linkDeviceResponse struct {
	Success            bool `json:"success"`
	LinkedFlashesCount int  `json:"linkedFlashesCount"`
}

type clearTrashRequest struct {
	UserID string `json:"userId"`
}

type clearTrashResponse struct {
	Success      bool `json:"success"`
	DeletedCount int  `json:"deletedCount"`
}

func nonNil(flashes []*models.Flash) []*models.Flash {
	if flashes == nil {
		return []*models.Flash{}
	}
	return flashes
}

func (h *Handler) CreateFlash(w http.ResponseWriter, r *http.Request) {
	var in services.CreateFlashInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flash, err := h.flashes.Create(r.Context(), in, callerFrom(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataResponse{Data: flash})
}

// ListFlashes serves GET /flash?deviceId= or ?userId=. userId wins when both are set.
func (h *Handler) ListFlashes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		flashes []*models.Flash
		err     error
	)
	switch {
	case q.Get("userId") != "":
		flashes, err = h.flashes.ListByUser(r.Context(), q.Get("userId"), callerFrom(r.Context()))
	case q.Get("deviceId") != "":
		deviceID, perr := uuid.Parse(q.Get("deviceId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "deviceId must be a uuid")
			return
		}
		flashes, err = h.flashes.ListByDevice(r.Context(), deviceID)
	default:
		writeError(w, http.StatusBadRequest, "deviceId or userId is required")
		return
	}
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: nonNil(flashes)})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var item models.MutationQueueItem
	if err := decodeJSON(w, r, &item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.flashes.Apply(r.Context(), item, callerFrom(r.Context())); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	flashes, err := h.flashes.ListByUser(r.Context(), userID, callerFrom(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, pullResponse{
		ServerFlashes: nonNil(flashes),
		Conflicts:     []*models.Flash{},
	})
}

func (h *Handler) LinkDevice(w http.ResponseWriter, r *http.Request) {
	var req linkDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "deviceId and userId are required")
		return
	}

	n, err := h.flashes.LinkDevice(r.Context(), deviceID, req.UserID, callerFrom(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.log.Info(r.Context(), "device linked", "device_id", deviceID, "user_id", req.UserID, "flashes", n)
	writeJSON(w, http.StatusOK, linkDeviceResponse{Success: true, LinkedFlashesCount: n})
}

func (h *Handler) ClearTrash(w http.ResponseWriter, r *http.Request) {
	var req clearTrashRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	n, err := h.flashes.ClearTrash(r.Context(), req.UserID, callerFrom(r.Context()))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearTrashResponse{Success: true, DeletedCount: n})
}
