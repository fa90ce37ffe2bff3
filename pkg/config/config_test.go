package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func emptyEnvFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.env")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUICKWATCH_ENV_FILE", emptyEnvFile(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 5001 {
		t.Errorf("Port = %d, want 5001", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:5001" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.OnionflixerBaseURL != "https://onflix.su" {
		t.Errorf("OnionflixerBaseURL = %q", cfg.OnionflixerBaseURL)
	}
	if cfg.OnionflixerReferer != "https://onionplay.ch/" {
		t.Errorf("OnionflixerReferer = %q", cfg.OnionflixerReferer)
	}
	if cfg.ScriptTimeout != 10*time.Second {
		t.Errorf("ScriptTimeout = %v, want 10s", cfg.ScriptTimeout)
	}
	if cfg.FetchRetries != 3 {
		t.Errorf("FetchRetries = %d, want 3", cfg.FetchRetries)
	}
	if cfg.ExtractCacheTTL != 0 {
		t.Errorf("ExtractCacheTTL = %v, want disabled", cfg.ExtractCacheTTL)
	}
	if !cfg.ScriptPermissionModel || cfg.ScriptPermissionFlag != "" {
		t.Errorf("ScriptPermissionModel/Flag = %v/%q, want on with the flag detected at startup", cfg.ScriptPermissionModel, cfg.ScriptPermissionFlag)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUICKWATCH_ENV_FILE", emptyEnvFile(t))
	t.Setenv("PORT", "8080")
	t.Setenv("SCRIPT_TIMEOUT", "3")
	t.Setenv("FETCH_BACKOFF", "250ms")
	t.Setenv("ONIONFLIXER_BASE_URL", "https://mirror.example/")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://quickwatch.co")
	t.Setenv("ONIONFLIXER_NATIVE_DECODE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8080 || cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("Port/BaseURL = %d/%q", cfg.Port, cfg.BaseURL)
	}
	if cfg.ScriptTimeout != 3*time.Second {
		t.Errorf("ScriptTimeout = %v, want 3s", cfg.ScriptTimeout)
	}
	if cfg.FetchBackoff != 250*time.Millisecond {
		t.Errorf("FetchBackoff = %v, want 250ms", cfg.FetchBackoff)
	}
	if cfg.OnionflixerBaseURL != "https://mirror.example" {
		t.Errorf("OnionflixerBaseURL = %q, want trailing slash trimmed", cfg.OnionflixerBaseURL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://quickwatch.co" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if !cfg.OnionflixerNativeDecode {
		t.Error("OnionflixerNativeDecode should be enabled")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LOG_LEVEL=debug\nAPI_PASSWORD=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUICKWATCH_ENV_FILE", path)
	t.Setenv("API_PASSWORD", "from-env")
	// godotenv sets variables in the process environment; clear them afterwards.
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want value from .env", cfg.LogLevel)
	}
	if cfg.APIPassword != "from-env" {
		t.Errorf("APIPassword = %q, environment should win over .env", cfg.APIPassword)
	}
}

func TestLoad_ExplicitEnvFileErrors(t *testing.T) {
	dir := t.TempDir()
	unreadable := filepath.Join(dir, "dir.env")
	if err := os.Mkdir(unreadable, 0o700); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.env")},
		{"directory", unreadable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("QUICKWATCH_ENV_FILE", tt.path)
			if cfg, err := Load(); err == nil {
				t.Errorf("Load() = %+v, want error for %s", cfg, tt.path)
			}
		})
	}
}

func TestLoad_ImplicitDotEnvMayBeMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUICKWATCH_ENV_FILE", "")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() without .env: %v", err)
	}
}

func TestLoad_ImplicitDotEnvUnreadable(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("QUICKWATCH_ENV_FILE", "")
	if err := os.Mkdir(filepath.Join(dir, ".env"), 0o700); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("Load() ignored an unreadable .env")
	}
}

func TestConfig_SetPort(t *testing.T) {
	cfg := &Config{Port: 5001, BaseURL: "http://localhost:5001"}
	cfg.SetPort(9000)
	if cfg.BaseURL != "http://localhost:9000" {
		t.Errorf("derived BaseURL not updated: %q", cfg.BaseURL)
	}

	cfg = &Config{Port: 5001, BaseURL: "https://api.quickwatch.co"}
	cfg.SetPort(9000)
	if cfg.BaseURL != "https://api.quickwatch.co" {
		t.Errorf("explicit BaseURL overwritten: %q", cfg.BaseURL)
	}
}

func TestParseTransportRoutes(t *testing.T) {
	routes := parseTransportRoutes("{URL=onflix.su, PROXY=socks5://127.0.0.1:1080}, {URL=cdn.example, DISABLE_SSL=true, DIRECT=true}")
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0].URLPattern != "onflix.su" || routes[0].Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("route 0 = %+v", routes[0])
	}
	if !routes[1].DisableSSL || !routes[1].Direct {
		t.Errorf("route 1 = %+v", routes[1])
	}
	if parseTransportRoutes("") != nil {
		t.Error("empty input should yield nil")
	}
}
