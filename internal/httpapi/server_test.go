package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_ReportsUptime(t *testing.T) {
	s := NewServer(Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, nil, "test")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStreams_ReflectsRegistry(t *testing.T) {
	s := NewServer(Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, nil, "test")
	s.Registry().Register(StreamInfo{ID: "abc", Kind: "hls", URI: "https://example/master.m3u8", OpenedAt: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/streams", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); !contains(got, "abc") {
		t.Fatalf("body = %q, want it to mention the registered stream ID", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
