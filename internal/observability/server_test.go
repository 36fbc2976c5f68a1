package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServer_Readiness(t *testing.T) {
	s := NewServer(":0")
	h := s.Handler()

	tests := []struct {
		name   string
		ready  bool
		path   string
		status int
	}{
		{"healthz always ok", false, "/healthz", http.StatusOK},
		{"readyz before ready", false, "/readyz", http.StatusServiceUnavailable},
		{"readyz after ready", true, "/readyz", http.StatusOK},
		{"metrics exposed", true, "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.SetReady(tt.ready)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.status)
			}
		})
	}
}
