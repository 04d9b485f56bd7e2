package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	devices "gasgrid-cloud/internal/devices/domain"
)

// Handler provides device registry endpoints.
type Handler struct {
	repo devices.Repository
}

// NewHandler constructs a handler.
func NewHandler(repo devices.Repository) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("devices handler: nil repository")
	}
	return &Handler{repo: repo}, nil
}

// deviceView adds the derived status field to API responses.
type deviceView struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Name       string    `json:"name"`
	DeviceType string    `json:"device_type"`
	Location   string    `json:"location"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Status     string    `json:"status"`
	LastSeen   time.Time `json:"last_seen"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toView(device devices.Device) deviceView {
	status := "offline"
	if device.Active {
		status = "online"
	}
	return deviceView{
		ID:         device.ID,
		ClientID:   device.ClientID,
		Name:       device.Name,
		DeviceType: device.DeviceType,
		Location:   device.Location,
		Latitude:   device.Latitude,
		Longitude:  device.Longitude,
		Status:     status,
		LastSeen:   device.LastSeen,
		CreatedAt:  device.CreatedAt,
		UpdatedAt:  device.UpdatedAt,
	}
}

// ServeHTTP handles /api/v1/devices and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleItem(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	fleet, err := h.repo.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]deviceView, 0, len(fleet))
	for _, device := range fleet {
		views = append(views, toView(device))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

type updateDeviceRequest struct {
	Name       *string  `json:"name"`
	DeviceType *string  `json:"device_type"`
	Location   *string  `json:"location"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		device, err := h.repo.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if device == nil {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toView(*device))
	case http.MethodPut:
		var req updateDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		device, err := h.repo.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if device == nil {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		if req.Name != nil {
			device.Name = *req.Name
		}
		if req.DeviceType != nil {
			device.DeviceType = *req.DeviceType
		}
		if req.Location != nil {
			device.Location = *req.Location
		}
		if req.Latitude != nil {
			device.Latitude = *req.Latitude
		}
		if req.Longitude != nil {
			device.Longitude = *req.Longitude
		}
		if err := h.repo.Save(r.Context(), device); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toView(*device))
	case http.MethodDelete:
		if err := h.repo.Delete(r.Context(), id); err != nil {
			if errors.Is(err, devices.ErrNotFound) {
				http.Error(w, "device not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
