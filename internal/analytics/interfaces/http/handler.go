package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	analytics "gasgrid-cloud/internal/analytics/application"
	devices "gasgrid-cloud/internal/devices/domain"
)

const defaultRecentLimit = 20

// DashboardReader is the read-side the handler exposes. Both the plain
// and the cached dashboard satisfy it.
type DashboardReader interface {
	Overview(ctx context.Context) (*analytics.Overview, error)
	DeviceDetail(ctx context.Context, clientID string, recentLimit int) (*analytics.DeviceDetail, error)
	Series(ctx context.Context, clientID, parameter string, from, to time.Time) (*analytics.Series, error)
}

// Handler serves dashboard read endpoints.
type Handler struct {
	dashboard DashboardReader
}

// NewHandler constructs a handler.
func NewHandler(dashboard DashboardReader) (*Handler, error) {
	if dashboard == nil {
		return nil, errors.New("dashboard handler: nil dashboard")
	}
	return &Handler{dashboard: dashboard}, nil
}

// ServeHTTP routes /api/v1/dashboard requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/dashboard/overview":
		h.handleOverview(w, r)
	case r.URL.Path == "/api/v1/dashboard/series":
		h.handleSeries(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/dashboard/devices/"):
		h.handleDevice(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.dashboard.Overview(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, overview)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimPrefix(r.URL.Path, "/api/v1/dashboard/devices/")
	if clientID == "" || strings.Contains(clientID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	detail, err := h.dashboard.DeviceDetail(r.Context(), clientID, limit)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, detail)
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	clientID := query.Get("client_id")
	parameter := query.Get("parameter")
	if clientID == "" || parameter == "" {
		http.Error(w, "client_id and parameter are required", http.StatusBadRequest)
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if raw := query.Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	series, err := h.dashboard.Series(r.Context(), clientID, parameter, from, to)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, series)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
