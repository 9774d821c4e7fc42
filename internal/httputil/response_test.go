package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter, string)
		want int
	}{
		{"bad request", BadRequest, http.StatusBadRequest},
		{"internal", InternalServerError, http.StatusInternalServerError},
		{"unavailable", ServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.fn(rec, "msg")
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteHTML(rec, []byte("<p>hi</p>"))
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content-type = %s", ct)
	}
	if rec.Body.String() != "<p>hi</p>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	flusher, err := StartEventStream(rec)
	if err != nil {
		t.Fatalf("StartEventStream: %v", err)
	}
	if err := WriteEvent(rec, flusher, "chart", map[string]int{"revision": 3}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %s", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, ": ping\n\n") {
		t.Errorf("missing initial ping: %q", body)
	}
	if !strings.Contains(body, "event: chart\ndata: {\"revision\":3}\n\n") {
		t.Errorf("missing event frame: %q", body)
	}
}
