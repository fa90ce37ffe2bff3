// Package httpclient provides a configurable HTTP client with proxy support.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"

	"github.com/goccy/go-json"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// DefaultUserAgent is sent when a request carries no User-Agent of its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrBodyTooLarge is returned when a buffered response exceeds its size cap.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Client wraps http.Client with proxy routing and connection pooling.
// The underlying clients set no overall timeout; callers bound each request
// with its context.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client // Client with browser-like TLS fingerprint for Cloudflare bypass
	proxyClients  map[string]*http.Client
	routes        []config.TransportRoute
	globalProxies []string
	utlsDomains   []string
	maxRetries    int
	backoff       time.Duration
	mu            sync.RWMutex
	log           *logging.Logger
}

// ipv4Dialer creates a dialer that only uses IPv4.
// This avoids issues with IPv6 connectivity in environments where IPv6 is not available.
func ipv4Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 60 * time.Second,
	}
}

// ipv4DialContext forces IPv4-only connections.
func ipv4DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	// Force IPv4 by using "tcp4" instead of "tcp"
	if network == "tcp" {
		network = "tcp4"
	}
	return ipv4Dialer().DialContext(ctx, network, addr)
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		proxyClients:  make(map[string]*http.Client),
		routes:        cfg.TransportRoutes,
		globalProxies: cfg.GlobalProxies,
		utlsDomains:   cfg.UTLSDomains,
		maxRetries:    cfg.FetchRetries,
		backoff:       cfg.FetchBackoff,
		log:           log.WithComponent("httpclient"),
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}

	// Default client with connection pooling (IPv4 only)
	c.defaultClient = &http.Client{
		Transport: &http.Transport{
			DialContext:           ipv4DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	// Create utls client with browser-like TLS fingerprint for Cloudflare bypass
	c.utlsClient = c.createUTLSClient()

	return c
}

// createUTLSClient creates an HTTP client with browser-like TLS fingerprinting.
func (c *Client) createUTLSClient() *http.Client {
	// Use HTTP/2 transport with utls for Cloudflare bypass
	return &http.Client{Transport: newUTLSRoundTripper()}
}

// utlsRoundTripper implements http.RoundTripper with utls and HTTP/2 support
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{
			DisableCompression: false,
			AllowHTTP:          false,
		},
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Only handle HTTPS
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr = addr + ":443"
	}

	// Force IPv4
	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	// Extract hostname for SNI
	host := req.URL.Hostname()

	// Create utls connection with Chrome fingerprint
	tlsConfig := &utls.Config{
		ServerName: host,
	}

	// Use Chrome 120 fingerprint with HTTP/2
	utlsConn := utls.UClient(conn, tlsConfig, utls.HelloChrome_120)

	// Perform TLS handshake
	if err := utlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	// Check negotiated protocol
	alpn := utlsConn.ConnectionState().NegotiatedProtocol

	if alpn == "h2" {
		// Use HTTP/2
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2Conn.RoundTrip(req)
	}

	// Fallback to HTTP/1.1
	return t.doHTTP1Request(utlsConn, req)
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	// Write request
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Read response
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Wrap body to close connection when done
	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// needsUTLS returns true if the URL requires browser-like TLS fingerprinting.
func (c *Client) needsUTLS(targetURL string) bool {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.utlsDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// Do executes an HTTP request, routing through proxies as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	client := c.getClientForURL(req.URL.String())
	return client.Do(req)
}

// DoUTLS executes an HTTP request with the browser-fingerprint client.
func (c *Client) DoUTLS(req *http.Request) (*http.Response, error) {
	return c.utlsClient.Do(req)
}

// Fetch performs a buffered request. Network errors and 429/5xx responses are
// retried up to the configured count with exponential backoff; the final
// response is returned as-is, whatever its status.
func (c *Client) Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			c.log.Debug("retrying upstream request",
				"url", req.URL,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.fetchOnce(ctx, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBodyTooLarge) {
				return nil, err
			}
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < c.maxRetries {
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", DefaultUserAgent)
	}

	var resp *http.Response
	if req.ForceUTLS {
		resp, err = c.DoUTLS(httpReq)
	} else {
		resp, err = c.Do(httpReq)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if req.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, req.MaxBodyBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if req.MaxBodyBytes > 0 && int64(len(data)) > req.MaxBodyBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, req.MaxBodyBytes)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &types.FetchResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   finalURL,
	}, nil
}

// isRetryableStatus matches the statuses the upstream sites use for throttling
// and transient failures.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// getClientForURL returns the appropriate HTTP client based on URL routing rules.
func (c *Client) getClientForURL(targetURL string) *http.Client {
	// Check if URL needs browser-like TLS fingerprinting (Cloudflare bypass)
	if c.needsUTLS(targetURL) {
		c.log.Debug("using utls client for Cloudflare bypass", "url", targetURL)
		return c.utlsClient
	}

	// Check transport routes first (most specific)
	for _, route := range c.routes {
		if strings.Contains(targetURL, route.URLPattern) {
			c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

			// Direct connection - bypass global proxy
			if route.Direct {
				if route.DisableSSL {
					return c.getInsecureClient()
				}
				return c.defaultClient
			}

			if route.Proxy != "" {
				return c.getOrCreateProxyClient(route.Proxy, route.DisableSSL)
			}
			if route.DisableSSL {
				return c.getInsecureClient()
			}
		}
	}

	// Use global proxy if configured
	if len(c.globalProxies) > 0 {
		// Use first global proxy (could implement round-robin or failover later)
		proxyURL := c.globalProxies[0]
		c.log.Debug("using global proxy", "url", targetURL, "proxy", proxyURL)
		return c.getOrCreateProxyClient(proxyURL, false)
	}

	return c.defaultClient
}

// getOrCreateProxyClient returns a cached proxy client or creates a new one.
func (c *Client) getOrCreateProxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	if client, ok := c.proxyClients[cacheKey]; ok {
		c.mu.RUnlock()
		return client
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client := c.createProxyClient(proxyURL, disableSSL)
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

// createProxyClient creates a new HTTP client for the given proxy.
func (c *Client) createProxyClient(proxyURL string, disableSSL bool) *http.Client {
	transport := &http.Transport{
		DialContext:           ipv4DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	// If no proxy URL, just return client with transport (possibly with SSL disabled)
	if proxyURL == "" {
		return &http.Client{Transport: transport}
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsedURL, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsedURL.Scheme)
		return c.defaultClient
	}

	return &http.Client{Transport: transport}
}

// getInsecureClient returns a client that skips SSL verification.
func (c *Client) getInsecureClient() *http.Client {
	return c.getOrCreateProxyClient("", true)
}

// blockedHeaders are never relayed from a client to an upstream.
var blockedHeaders = map[string]bool{
	"x-forwarded-for": true,
	"x-real-ip":       true,
	"forwarded":       true,
	"via":             true,
	"host":            true,
	"connection":      true,
	"content-length":  true,
	"accept-encoding": true,
}

// SanitizeHeaders returns a copy of headers without hop-by-hop and
// client-identifying entries.
func SanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if !blockedHeaders[strings.ToLower(key)] {
			out[key] = value
		}
	}
	return out
}

// ParseHeaderParams extracts headers from query parameters with h_ prefix.
// It converts underscores to hyphens in header names (e.g., h_User_Agent -> User-Agent).
// A "headers" parameter holding a JSON object is merged first, so h_ values win.
func ParseHeaderParams(query url.Values) map[string]string {
	headers := make(map[string]string)
	if raw := query.Get("headers"); raw != "" {
		var fromJSON map[string]string
		if err := json.Unmarshal([]byte(raw), &fromJSON); err == nil {
			for key, value := range fromJSON {
				headers[key] = value
			}
		}
	}
	for key, values := range query {
		if strings.HasPrefix(key, "h_") && len(values) > 0 {
			// Remove h_ prefix and convert underscores to hyphens
			headerName := strings.ReplaceAll(key[2:], "_", "-")
			headers[headerName] = values[0]
		}
	}
	return headers
}

var _ interfaces.Fetcher = (*Client)(nil)
