package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
)

func TestParseHeaderParams(t *testing.T) {
	tests := []struct {
		name     string
		query    url.Values
		expected map[string]string
	}{
		{
			name:     "empty query",
			query:    url.Values{},
			expected: map[string]string{},
		},
		{
			name: "simple header",
			query: url.Values{
				"h_Referer": []string{"https://example.com"},
			},
			expected: map[string]string{
				"Referer": "https://example.com",
			},
		},
		{
			name: "underscore to hyphen conversion",
			query: url.Values{
				"h_User_Agent": []string{"Mozilla/5.0"},
			},
			expected: map[string]string{
				"User-Agent": "Mozilla/5.0",
			},
		},
		{
			name: "multiple underscores",
			query: url.Values{
				"h_X_Custom_Header_Name": []string{"value"},
			},
			expected: map[string]string{
				"X-Custom-Header-Name": "value",
			},
		},
		{
			name: "multiple headers",
			query: url.Values{
				"h_Referer":    []string{"https://example.com"},
				"h_User_Agent": []string{"Mozilla/5.0"},
				"h_Cookie":     []string{"session=abc123"},
			},
			expected: map[string]string{
				"Referer":    "https://example.com",
				"User-Agent": "Mozilla/5.0",
				"Cookie":     "session=abc123",
			},
		},
		{
			name: "ignores non-header params",
			query: url.Values{
				"url":          []string{"https://example.com/stream.m3u8"},
				"h_Referer":    []string{"https://example.com"},
				"api_password": []string{"secret"},
			},
			expected: map[string]string{
				"Referer": "https://example.com",
			},
		},
		{
			name: "empty value",
			query: url.Values{
				"h_Empty": []string{""},
			},
			expected: map[string]string{
				"Empty": "",
			},
		},
		{
			name: "json headers parameter",
			query: url.Values{
				"headers": []string{`{"Referer":"https://onflix.su/","Origin":"https://onflix.su"}`},
			},
			expected: map[string]string{
				"Referer": "https://onflix.su/",
				"Origin":  "https://onflix.su",
			},
		},
		{
			name: "h_ parameter overrides json headers",
			query: url.Values{
				"headers":   []string{`{"Referer":"https://a.example/"}`},
				"h_Referer": []string{"https://b.example/"},
			},
			expected: map[string]string{
				"Referer": "https://b.example/",
			},
		},
		{
			name: "malformed json headers ignored",
			query: url.Values{
				"headers": []string{`{not json`},
			},
			expected: map[string]string{},
		},
		{
			name: "only first value used",
			query: url.Values{
				"h_Multi": []string{"first", "second", "third"},
			},
			expected: map[string]string{
				"Multi": "first",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseHeaderParams(tt.query)

			if len(result) != len(tt.expected) {
				t.Errorf("got %d headers, want %d", len(result), len(tt.expected))
			}

			for key, expectedValue := range tt.expected {
				if result[key] != expectedValue {
					t.Errorf("header %q = %q, want %q", key, result[key], expectedValue)
				}
			}
		})
	}
}

func TestSanitizeHeaders(t *testing.T) {
	in := map[string]string{
		"Referer":         "https://player.example/",
		"User-Agent":      "test",
		"Host":            "evil.example",
		"X-Forwarded-For": "10.0.0.1",
		"connection":      "close",
	}
	out := SanitizeHeaders(in)

	if len(out) != 2 || out["Referer"] == "" || out["User-Agent"] == "" {
		t.Errorf("SanitizeHeaders() = %v", out)
	}
	if len(in) != 5 {
		t.Error("input map was modified")
	}
	if got := SanitizeHeaders(nil); got == nil || len(got) != 0 {
		t.Errorf("SanitizeHeaders(nil) = %v", got)
	}
}

func TestGetClientForURL(t *testing.T) {
	log := logging.New("debug", false, io.Discard)

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectProxy   bool
		expectDefault bool
	}{
		{
			name: "uses global proxy when no transport routes match",
			cfg: &config.Config{
				GlobalProxies:   []string{"socks5://proxy.example.com:1080"},
				TransportRoutes: nil,
			},
			targetURL:     "https://cdn.example.com/video.m3u8",
			expectProxy:   true,
			expectDefault: false,
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{
						URLPattern: "cdn.specific.com",
						Proxy:      "socks5://specific-proxy.example.com:1080",
					},
				},
			},
			targetURL:     "https://cdn.specific.com/video.m3u8",
			expectProxy:   true,
			expectDefault: false,
		},
		{
			name: "uses default client when no proxy configured",
			cfg: &config.Config{
				GlobalProxies:   nil,
				TransportRoutes: nil,
			},
			targetURL:     "https://cdn.example.com/video.m3u8",
			expectProxy:   false,
			expectDefault: true,
		},
		{
			name: "transport route takes precedence over global proxy",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{
						URLPattern: "specific-cdn.com",
						DisableSSL: true, // No proxy, just disable SSL
					},
				},
			},
			targetURL:     "https://specific-cdn.com/video.m3u8",
			expectProxy:   false, // Using insecure client, not proxy client
			expectDefault: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			httpClient := client.getClientForURL(tt.targetURL)

			// Check if we got the default client or a proxy client
			isDefaultClient := httpClient == client.defaultClient

			if tt.expectDefault && !isDefaultClient {
				t.Error("expected default client but got a different client")
			}

			if !tt.expectDefault && isDefaultClient && (tt.expectProxy || len(tt.cfg.TransportRoutes) > 0) {
				t.Error("expected proxy/insecure client but got default client")
			}
		})
	}
}

func TestGetClientForURL_UTLSDomains(t *testing.T) {
	log := logging.New("error", false, io.Discard)
	client := New(&config.Config{UTLSDomains: []string{"onflix."}}, log)

	if got := client.getClientForURL("https://onflix.su/tt1"); got != client.utlsClient {
		t.Error("expected utls client for configured domain")
	}
	if got := client.getClientForURL("https://cdn.example.com/a.m3u8"); got != client.defaultClient {
		t.Error("expected default client for other domains")
	}
}

func newFetchClient(retries int) *Client {
	return New(&config.Config{
		FetchRetries: retries,
		FetchBackoff: time.Millisecond,
	}, logging.New("error", false, io.Discard))
}

func TestFetch_RetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Referer") != "https://onionplay.ch/" {
			t.Errorf("Referer = %q", r.Header.Get("Referer"))
		}
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	resp, err := newFetchClient(3).Fetch(context.Background(), &types.FetchRequest{
		URL:     server.URL,
		Headers: map[string]string{"Referer": "https://onionplay.ch/"},
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "<html>ok</html>" {
		t.Errorf("Fetch() = %d %q", resp.StatusCode, resp.Body)
	}
	if calls.Load() != 3 {
		t.Errorf("upstream called %d times, want 3", calls.Load())
	}
}

func TestFetch_ReturnsLastRetryableResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp, err := newFetchClient(2).Fetch(context.Background(), &types.FetchRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("upstream called %d times, want 3", calls.Load())
	}
}

func TestFetch_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	resp, err := newFetchClient(3).Fetch(context.Background(), &types.FetchRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || calls.Load() != 1 {
		t.Errorf("status = %d after %d calls, want 404 after 1", resp.StatusCode, calls.Load())
	}
}

func TestFetch_PostBodyReplayed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "q=dune" {
			t.Errorf("attempt %d body = %q", calls.Load()+1, body)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("done"))
	}))
	defer server.Close()

	resp, err := newFetchClient(1).Fetch(context.Background(), &types.FetchRequest{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   []byte("q=dune"),
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(resp.Body) != "done" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	_, err := newFetchClient(3).Fetch(context.Background(), &types.FetchRequest{
		URL:          server.URL,
		MaxBodyBytes: 1024,
	})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrBodyTooLarge", err)
	}
}

func TestFetch_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(&config.Config{
		FetchRetries: 5,
		FetchBackoff: time.Hour,
	}, logging.New("error", false, io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, &types.FetchRequest{URL: server.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch() error = %v, want DeadlineExceeded", err)
	}
}

func TestClients_DeadlineComesFromContext(t *testing.T) {
	c := newFetchClient(0)
	clients := map[string]*http.Client{
		"default":  c.defaultClient,
		"utls":     c.utlsClient,
		"insecure": c.getInsecureClient(),
		"proxy":    c.getOrCreateProxyClient("http://127.0.0.1:3128", false),
	}
	for name, hc := range clients {
		if hc.Timeout != 0 {
			t.Errorf("%s client Timeout = %v, want none so the request context governs", name, hc.Timeout)
		}
	}
}

func TestFetch_ContextDeadlineGovernsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer server.Close()

	c := newFetchClient(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.Fetch(ctx, &types.FetchRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(resp.Body) != "late" {
		t.Errorf("body = %q", resp.Body)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := c.Fetch(short, &types.FetchRequest{URL: server.URL}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want DeadlineExceeded from the context", err)
	}
}

func TestFetch_NetworkErrorExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := newFetchClient(1).Fetch(context.Background(), &types.FetchRequest{URL: addr})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
}
