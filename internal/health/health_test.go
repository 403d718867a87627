package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeSource struct {
	status  Status
	metrics map[string]any
}

func (f *fakeSource) HealthCheck() Status { return f.status }
func (f *fakeSource) Metrics() any        { return f.metrics }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	srv := NewServer(":0", &fakeSource{})
	rec := get(t, srv.Handler(), "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "alive" {
		t.Errorf("body = %v", body)
	}
}

func TestReadiness_StatusCodes(t *testing.T) {
	tests := []struct {
		status string
		code   int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			src := &fakeSource{status: Status{
				Status:             tt.status,
				ClassifierDegraded: tt.status == StatusDegraded,
			}}
			rec := get(t, NewServer(":0", src).Handler(), "/readiness")

			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}

			var got Status
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.status {
				t.Errorf("status = %q, want %q", got.Status, tt.status)
			}
			if got.ClassifierDegraded != (tt.status == StatusDegraded) {
				t.Errorf("classifier_degraded = %v", got.ClassifierDegraded)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	src := &fakeSource{metrics: map[string]any{"frames_submitted": 42}}
	rec := get(t, NewServer(":0", src).Handler(), "/metrics")

	var body map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["frames_submitted"] != 42 {
		t.Errorf("body = %v", body)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &fakeSource{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	t.Log("✅ Health server started and shut down cleanly")
}
