package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recordingLogger) Log(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRecordsMutations(t *testing.T) {
	logger := &recordingLogger{}
	handler := Middleware(logger, noopHandler())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/alarms/a-1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(logger.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Action != "delete alarms" || entry.ResourceType != "alarms" || entry.ResourceID != "a-1" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestMiddlewareIgnoresReadsAndLogin(t *testing.T) {
	logger := &recordingLogger{}
	handler := Middleware(logger, noopHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if len(logger.entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(logger.entries))
	}
}

func TestSplitResource(t *testing.T) {
	cases := []struct {
		path     string
		resource string
		id       string
	}{
		{"/api/v1/alarms/a-1/ack", "alarms", "a-1/ack"},
		{"/api/v1/users", "users", ""},
		{"/api/v1/thresholds/t-1", "thresholds", "t-1"},
	}
	for _, tc := range cases {
		resource, id := splitResource(tc.path)
		if resource != tc.resource || id != tc.id {
			t.Fatalf("splitResource(%q) = %q, %q", tc.path, resource, id)
		}
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("ClientIP = %q", got)
	}
}
