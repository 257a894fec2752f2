package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dikt/internal/health"
)

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthReflectsSnapshot(t *testing.T) {
	t.Parallel()

	diag := health.New()
	s := NewServer(diag, nil)

	rec := get(t, s, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the listener is healthy, got %d", rec.Code)
	}

	diag.MarkHealthy("Listening for Ctrl+Alt+Space on 1 keyboard(s)")
	rec = get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap health.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.Healthy || snap.Message != "Listening for Ctrl+Alt+Space on 1 keyboard(s)" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestEventsLimit(t *testing.T) {
	t.Parallel()

	diag := health.New()
	diag.PushEvent("first")
	diag.PushEvent("second")
	diag.PushEvent("third")
	s := NewServer(diag, nil)

	var body eventsResponse
	rec := get(t, s, "/events?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected the two newest events, got %v", body.Events)
	}

	rec = get(t, s, "/events")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(body.Events) != 3 {
		t.Fatalf("expected all events, got %v", body.Events)
	}
}

func TestEventsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	s := NewServer(health.New(), nil)
	if rec := get(t, s, "/events?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEventsEmptyIsArray(t *testing.T) {
	t.Parallel()

	s := NewServer(health.New(), nil)
	rec := get(t, s, "/events")
	if body := rec.Body.String(); body != "{\"events\":[]}\n" {
		t.Fatalf("unexpected body %q", body)
	}
}
