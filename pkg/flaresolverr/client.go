// Package flaresolverr provides a client for the FlareSolverr API
// to bypass Cloudflare protection on websites.
package flaresolverr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quickwatch-go/pkg/logging"

	"github.com/goccy/go-json"
)

// ErrUnsolved is returned when FlareSolverr answers but could not pass the
// challenge.
var ErrUnsolved = errors.New("flaresolverr: challenge not solved")

// Cookie represents a cookie from FlareSolverr response.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
}

// Solution contains the result of a successful FlareSolverr request.
type Solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []Cookie          `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

// ContentType returns the upstream Content-Type header, matched
// case-insensitively since FlareSolverr reports headers as the browser saw them.
func (s *Solution) ContentType() string {
	for k, v := range s.Headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return ""
}

// Response is the full response from FlareSolverr API.
type Response struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	StartTime int64    `json:"startTimestamp"`
	EndTime   int64    `json:"endTimestamp"`
	Version   string   `json:"version"`
	Solution  Solution `json:"solution"`
}

// Request is the request body for FlareSolverr API.
type Request struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url"`
	MaxTimeout int      `json:"maxTimeout"`
	Cookies    []Cookie `json:"cookies,omitempty"`
	Session    string   `json:"session,omitempty"`
	// PostData is an application/x-www-form-urlencoded body for request.post.
	PostData string `json:"postData,omitempty"`
}

// Client is a FlareSolverr API client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient creates a new FlareSolverr client.
func NewClient(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 10*time.Second, // Add buffer for network overhead
		},
		log: log.WithComponent("flaresolverr"),
	}
}

// Get fetches a URL through FlareSolverr, bypassing Cloudflare protection.
func (c *Client) Get(ctx context.Context, targetURL string, existingCookies []Cookie) (*Response, error) {
	return c.do(ctx, Request{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    existingCookies,
	})
}

// Post submits form through FlareSolverr as an urlencoded POST.
func (c *Client) Post(ctx context.Context, targetURL string, form url.Values, existingCookies []Cookie) (*Response, error) {
	return c.do(ctx, Request{
		Cmd:        "request.post",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    existingCookies,
		PostData:   form.Encode(),
	})
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	c.log.Debug("fetching URL via FlareSolverr", "url", req.URL, "cmd", req.Cmd)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FlareSolverr returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var fsResp Response
	if err := json.Unmarshal(respBody, &fsResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if fsResp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrUnsolved, fsResp.Message)
	}

	c.log.Debug("FlareSolverr request successful",
		"url", req.URL,
		"status", fsResp.Solution.Status,
		"cookies", len(fsResp.Solution.Cookies),
		"response_length", len(fsResp.Solution.Response))

	return &fsResp, nil
}

// IsConfigured returns true if the client is properly configured.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}
