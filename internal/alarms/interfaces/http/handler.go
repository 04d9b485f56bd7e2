package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	alarms "gasgrid-cloud/internal/alarms/domain"
	"gasgrid-cloud/internal/auth"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

const timeLayout = time.RFC3339

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/alarms and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodDelete:
			h.handleBulkDelete(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case r.URL.Path == "/api/v1/alarms/stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStats(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleItem(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (h *Handler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	deleted, err := h.service.DeleteAll(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 2 && parts[1] == "ack":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		alarm, err := h.service.Acknowledge(r.Context(), parts[0], auth.SubjectFromContext(r.Context()))
		if err != nil {
			if errors.Is(err, alarms.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(alarm)
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.service.Delete(r.Context(), parts[0]); err != nil {
			if errors.Is(err, alarms.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func parseFilter(r *http.Request) (alarms.Filter, error) {
	filter := alarms.Filter{
		DeviceID:  r.URL.Query().Get("device_id"),
		Parameter: r.URL.Query().Get("parameter"),
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		filter.Severity = thresholds.Severity(severity)
		if !filter.Severity.Valid() {
			return alarms.Filter{}, errors.New("invalid severity")
		}
	}
	if acked := r.URL.Query().Get("acknowledged"); acked != "" {
		value, err := strconv.ParseBool(acked)
		if err != nil {
			return alarms.Filter{}, errors.New("invalid acknowledged flag")
		}
		filter.Acknowledged = &value
	}
	var err error
	if filter.From, err = parseTimeQuery(r, "from"); err != nil {
		return alarms.Filter{}, err
	}
	if filter.To, err = parseTimeQuery(r, "to"); err != nil {
		return alarms.Filter{}, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return alarms.Filter{}, errors.New("to must be after from")
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil || value <= 0 {
			return alarms.Filter{}, errors.New("invalid limit")
		}
		filter.Limit = value
	}
	return filter, nil
}

func parseTimeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	value, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339")
	}
	return value.UTC(), nil
}
