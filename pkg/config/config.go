// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// CORS allow-list; empty means any origin
	CORSOrigins []string

	// Upstream HTTP settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string
	FetchRetries    int
	FetchBackoff    time.Duration

	// Forwarding proxy (/api/proxy)
	ProxyMaxBodyBytes   int64
	ProxyDefaultTimeout time.Duration

	// Onionflixer pipeline
	OnionflixerBaseURL      string
	OnionflixerReferer      string
	OnionflixerFetchTimeout time.Duration
	OnionflixerNativeDecode bool

	// Script sandbox
	ScriptRuntime         string
	ScriptTimeout         time.Duration
	ScriptPermissionModel bool
	ScriptPermissionFlag  string // empty: detected from the runtime version
	ScriptMaxOutputBytes  int64

	// Extraction result cache; zero disables it
	ExtractCacheTTL time.Duration

	// Logging
	LogLevel string
	LogJSON  bool

	// Metrics
	MetricsEnabled bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file is loaded first; variables already present in the environment win.
// Only a missing implicit .env is ignored; a file named by QUICKWATCH_ENV_FILE
// must exist and parse.
func Load() (*Config, error) {
	envFile, explicit := os.LookupEnv("QUICKWATCH_ENV_FILE")
	if !explicit || envFile == "" {
		envFile, explicit = ".env", false
	}
	if err := godotenv.Load(envFile); err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	port := getEnvInt("PORT", 5001)
	cfg := &Config{
		Port:                    port,
		BaseURL:                 getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:             getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:            getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:             getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIPassword:             os.Getenv("API_PASSWORD"),
		CORSOrigins:             getEnvStringSlice("CORS_ORIGINS", nil),
		GlobalProxies:           getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:             getEnvStringSlice("UTLS_DOMAINS", nil),
		FetchRetries:            getEnvInt("FETCH_RETRIES", 3),
		FetchBackoff:            getEnvDuration("FETCH_BACKOFF", time.Second),
		ProxyMaxBodyBytes:       int64(getEnvInt("PROXY_MAX_BODY_BYTES", 50<<20)),
		ProxyDefaultTimeout:     getEnvDuration("PROXY_DEFAULT_TIMEOUT", 30*time.Second),
		OnionflixerBaseURL:      strings.TrimRight(getEnvString("ONIONFLIXER_BASE_URL", "https://onflix.su"), "/"),
		OnionflixerReferer:      getEnvString("ONIONFLIXER_REFERER", "https://onionplay.ch/"),
		OnionflixerFetchTimeout: getEnvDuration("ONIONFLIXER_FETCH_TIMEOUT", 30*time.Second),
		OnionflixerNativeDecode: getEnvBool("ONIONFLIXER_NATIVE_DECODE", false),
		ScriptRuntime:           getEnvString("SCRIPT_RUNTIME", "node"),
		ScriptTimeout:           getEnvDuration("SCRIPT_TIMEOUT", 10*time.Second),
		ScriptPermissionModel:   getEnvBool("SCRIPT_PERMISSION_MODEL", true),
		ScriptPermissionFlag:    os.Getenv("SCRIPT_PERMISSION_FLAG"),
		ScriptMaxOutputBytes:    int64(getEnvInt("SCRIPT_MAX_OUTPUT_BYTES", 1<<20)),
		ExtractCacheTTL:         getEnvDuration("EXTRACT_CACHE_TTL", 0),
		LogLevel:                getEnvString("LOG_LEVEL", "info"),
		LogJSON:                 getEnvBool("LOG_JSON", false),
		MetricsEnabled:          getEnvBool("METRICS_ENABLED", true),
		FlareSolverrURL:         strings.TrimRight(getEnvString("FLARESOLVERR_URL", ""), "/"),
		FlareSolverrTimeout:     getEnvDuration("FLARESOLVERR_TIMEOUT", 60*time.Second),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg, nil
}

// SetPort overrides the listen port and, when BASE_URL was derived from it,
// the base URL as well.
func (c *Config) SetPort(port int) {
	if c.BaseURL == fmt.Sprintf("http://localhost:%d", c.Port) {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", port)
	}
	c.Port = port
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Plain integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
