package retention

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler exposes a manual purge trigger.
type Handler struct {
	sweeper *Sweeper
}

// NewHandler constructs a handler.
func NewHandler(sweeper *Sweeper) (*Handler, error) {
	if sweeper == nil {
		return nil, errors.New("retention handler: nil sweeper")
	}
	return &Handler{sweeper: sweeper}, nil
}

// ServeHTTP handles POST /api/v1/retention/run.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/retention/run" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
