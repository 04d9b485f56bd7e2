package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gasgrid-cloud/internal/auth"
)

// Lister reads audit entries.
type Lister interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Handler serves GET /api/v1/audit.
type Handler struct {
	lister Lister
}

// NewHandler constructs a handler.
func NewHandler(lister Lister) (*Handler, error) {
	if lister == nil {
		return nil, errors.New("audit handler: nil lister")
	}
	return &Handler{lister: lister}, nil
}

// ServeHTTP lists audit entries with optional filters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != "/api/v1/audit" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	filter := Filter{
		Actor:    query.Get("actor"),
		Action:   query.Get("action"),
		Resource: query.Get("resource"),
	}
	var err error
	if raw := query.Get("from"); raw != "" {
		filter.From, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		filter.To, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
	}
	if raw := query.Get("limit"); raw != "" {
		filter.Limit, err = strconv.Atoi(raw)
		if err != nil || filter.Limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.lister.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// Record builds an entry from a request and writes it through the
// logger. A nil logger is a no-op so handlers can wire it optionally.
func Record(ctx context.Context, logger Logger, r *http.Request, action, resourceType, resourceID string, meta map[string]any) {
	if logger == nil {
		return
	}
	var metadata json.RawMessage
	if len(meta) > 0 {
		metadata, _ = json.Marshal(meta)
	}
	entry := Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IP:           ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	_ = logger.Log(ctx, entry)
}

// Middleware records every mutating API call after it completes.
// Failed writes are dropped; auditing never blocks the request.
func Middleware(logger Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/v1/auth/login" {
			return
		}
		resourceType, resourceID := splitResource(r.URL.Path)
		Record(r.Context(), logger, r, strings.ToLower(r.Method)+" "+resourceType, resourceType, resourceID, nil)
	})
}

// splitResource maps /api/v1/<resource>/<id>... to its parts.
func splitResource(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	parts := strings.SplitN(trimmed, "/", 2)
	resource := parts[0]
	if len(parts) == 1 {
		return resource, ""
	}
	return resource, parts[1]
}

// ClientIP extracts the client ip from proxy headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
