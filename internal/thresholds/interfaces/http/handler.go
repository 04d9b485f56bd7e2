package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

// Handler provides threshold CRUD endpoints.
type Handler struct {
	repo thresholds.Repository
}

// NewHandler constructs a handler.
func NewHandler(repo thresholds.Repository) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("thresholds handler: nil repository")
	}
	return &Handler{repo: repo}, nil
}

// ServeHTTP handles /api/v1/thresholds and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/thresholds":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleSave(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/thresholds/"):
		h.handleItem(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	list, err := h.repo.List(r.Context(), deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []thresholds.Threshold{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

type thresholdRequest struct {
	ID        string  `json:"id"`
	DeviceID  string  `json:"device_id"`
	Parameter string  `json:"parameter"`
	LowMin    float64 `json:"low_min"`
	LowMax    float64 `json:"low_max"`
	MediumMin float64 `json:"medium_min"`
	MediumMax float64 `json:"medium_max"`
	HighMin   float64 `json:"high_min"`
	HighMax   float64 `json:"high_max"`
	Enabled   *bool   `json:"enabled"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	threshold := thresholds.Threshold{
		ID:        req.ID,
		DeviceID:  req.DeviceID,
		Parameter: req.Parameter,
		LowMin:    req.LowMin,
		LowMax:    req.LowMax,
		MediumMin: req.MediumMin,
		MediumMax: req.MediumMax,
		HighMin:   req.HighMin,
		HighMax:   req.HighMax,
		Enabled:   true,
	}
	if req.Enabled != nil {
		threshold.Enabled = *req.Enabled
	}
	if threshold.ID == "" {
		threshold.ID = uuid.NewString()
	}
	if err := h.repo.Save(r.Context(), &threshold); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(threshold)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/thresholds/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		threshold, err := h.repo.Get(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if threshold == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(threshold)
	case http.MethodPut:
		var req thresholdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		threshold := thresholds.Threshold{
			ID:        id,
			DeviceID:  req.DeviceID,
			Parameter: req.Parameter,
			LowMin:    req.LowMin,
			LowMax:    req.LowMax,
			MediumMin: req.MediumMin,
			MediumMax: req.MediumMax,
			HighMin:   req.HighMin,
			HighMax:   req.HighMax,
			Enabled:   true,
		}
		if req.Enabled != nil {
			threshold.Enabled = *req.Enabled
		}
		if err := h.repo.Save(r.Context(), &threshold); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(threshold)
	case http.MethodDelete:
		if err := h.repo.Delete(r.Context(), id); err != nil {
			if errors.Is(err, thresholds.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
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
