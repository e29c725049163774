package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/jgoulah/plugshare/internal/session"
	"github.com/jgoulah/plugshare/pkg/models"
)

type deviceStatusResponse struct {
	Free []models.Device       `json:"free"`
	Busy []models.ActiveDevice `json:"busy"`
}

// actionResult is the shape returned by turn on and turn off
type actionResult struct {
	Success bool                 `json:"success"`
	Data    *models.ActiveDevice `json:"data,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type turnOnRequest struct {
	DeviceIP         string     `json:"deviceIp,omitempty"`
	EstimatedUseTime *time.Time `json:"estimatedUseTime,omitempty"`
}

type turnOffRequest struct {
	DeviceIP string `json:"deviceIp,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context(), false)
	if err != nil {
		slog.Error("listing devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch devices")
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context(), false)
	if err != nil {
		slog.Error("listing devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch devices")
		return
	}
	active, err := s.store.ListActive(r.Context())
	if err != nil {
		slog.Error("listing active devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch active devices")
		return
	}

	busy := make(map[string]struct{}, len(active))
	for _, a := range active {
		busy[a.DeviceID] = struct{}{}
	}
	resp := deviceStatusResponse{Free: []models.Device{}, Busy: active}
	if resp.Busy == nil {
		resp.Busy = []models.ActiveDevice{}
	}
	for _, d := range devices {
		if _, ok := busy[d.ID]; !ok {
			resp.Free = append(resp.Free, d)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	deviceID := chi.URLParam(r, "id")

	var req turnOnRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResult{Error: "Invalid request body"})
		return
	}

	view, err := s.sessions.TurnOn(r.Context(), session.TurnOnInput{
		DeviceID:         deviceID,
		DeviceIP:         strings.TrimSpace(req.DeviceIP),
		UserEmail:        claims.Email,
		EstimatedUseTime: req.EstimatedUseTime,
	})
	if err != nil {
		slog.Error("turn on failed", "device_id", deviceID, "user", claims.Email, "error", err)
		writeJSON(w, http.StatusInternalServerError, actionResult{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true, Data: view})
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req turnOffRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResult{Error: "Invalid request body"})
		return
	}

	view, err := s.sessions.TurnOff(r.Context(), deviceID, strings.TrimSpace(req.DeviceIP))
	if errors.Is(err, session.ErrNotActive) {
		writeJSON(w, http.StatusConflict, actionResult{Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("turn off failed", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, actionResult{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true, Data: view})
}

// decodeOptionalJSON decodes the body into v, treating an empty body as no input
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
