package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                  5001,
		BaseURL:               "http://localhost:5001",
		APIPassword:           "pw",
		OnionflixerBaseURL:    "https://onflix.example",
		ScriptRuntime:         "node",
		ScriptPermissionModel: true,
		ScriptPermissionFlag:  "--permission",
		MetricsEnabled:        true,
	}
}

func TestNew_WiresRoutes(t *testing.T) {
	a, err := New(testConfig(), logging.New("error", false, io.Discard), "1.2.3")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if got := a.Extractor.Name(); got != "onionflixer" {
		t.Errorf("extractor = %q", got)
	}
	if h := a.StreamHandlers.Get("https://cdn.example/master.m3u8"); h == nil || h.Type() != types.StreamTypeHLS {
		t.Errorf("m3u8 not routed to the HLS handler: %v", h)
	}
	if h := a.StreamHandlers.Get("https://cdn.example/movie.mp4"); h == nil || h.Type() != types.StreamTypeGeneric {
		t.Errorf("mp4 not routed to the generic handler: %v", h)
	}

	handler := a.Server.Handler()
	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", http.StatusOK},
		{"extraction requires password", http.MethodPost, "/api/onionflixer", http.StatusUnauthorized},
		{"metrics with password", http.MethodGet, "/metrics?api_password=pw", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/proxy", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	if !strings.Contains(rec.Body.String(), `"version":"1.2.3"`) {
		t.Errorf("info = %s", rec.Body.String())
	}
}

func TestNew_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	cfg.APIPassword = ""

	a, err := New(cfg, logging.New("error", false, io.Discard), "dev")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404 when disabled", rec.Code)
	}
}

func TestNew_FailsWithoutEnforceableSandbox(t *testing.T) {
	cfg := testConfig()
	cfg.ScriptRuntime = "quickwatch-no-such-runtime"
	cfg.ScriptPermissionFlag = ""

	if _, err := New(cfg, logging.New("error", false, io.Discard), "dev"); err == nil {
		t.Fatal("New() succeeded without a runtime able to enforce the permission model")
	}

	cfg.ScriptPermissionModel = false
	if _, err := New(cfg, logging.New("error", false, io.Discard), "dev"); err != nil {
		t.Fatalf("New() with the permission model disabled: %v", err)
	}
}
