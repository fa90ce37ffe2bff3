package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quickwatch-go/pkg/flaresolverr"
	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
)

// Forward request validation errors.
var (
	ErrURLRequired      = errors.New("url is required")
	ErrInvalidURL       = errors.New("url must be an absolute http or https URL")
	ErrMethodNotAllowed = errors.New("only GET and POST methods are allowed")
)

// UpstreamStatusError is returned when the forwarded request got a non-2xx answer.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// ForwardResponse is the upstream answer relayed to the caller.
type ForwardResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// ForwardService relays GET and POST requests on behalf of the frontend.
type ForwardService struct {
	fetcher        interfaces.Fetcher
	flare          *flaresolverr.Client
	maxBodyBytes   int64
	defaultTimeout time.Duration
	log            *logging.Logger
}

// NewForwardService creates a forwarding service. flare may be nil, in which
// case Cloudflare-fronted requests use the browser-fingerprint client.
func NewForwardService(fetcher interfaces.Fetcher, flare *flaresolverr.Client, maxBodyBytes int64, defaultTimeout time.Duration, log *logging.Logger) *ForwardService {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &ForwardService{
		fetcher:        fetcher,
		flare:          flare,
		maxBodyBytes:   maxBodyBytes,
		defaultTimeout: defaultTimeout,
		log:            log.WithComponent("forward-service"),
	}
}

// Forward performs req and returns the upstream body. Upstream statuses
// outside 2xx are reported as *UpstreamStatusError.
func (s *ForwardService) Forward(ctx context.Context, req *types.ForwardRequest) (*ForwardResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if req.URL == "" {
		return nil, ErrURLRequired
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, ErrMethodNotAllowed
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}

	timeout := s.defaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := make(url.Values, len(req.FormData))
	for k, v := range req.FormData {
		form.Set(k, v)
	}

	log := s.log.With("url", req.URL, "method", method, "cf", req.CF)

	var (
		resp *ForwardResponse
		err  error
	)
	if req.CF && s.flare != nil && s.flare.IsConfigured() {
		log.Debug("forwarding via FlareSolverr")
		resp, err = s.viaFlareSolverr(ctx, method, req.URL, form)
	} else {
		log.Debug("forwarding request")
		resp, err = s.viaFetcher(ctx, method, req, form)
	}
	if err != nil {
		log.Warn("forward failed", "error", err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("upstream rejected forwarded request", "status", resp.StatusCode)
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (s *ForwardService) viaFetcher(ctx context.Context, method string, req *types.ForwardRequest, form url.Values) (*ForwardResponse, error) {
	headers := httpclient.SanitizeHeaders(req.Headers)

	var body []byte
	if method == http.MethodPost && len(form) > 0 {
		body = []byte(form.Encode())
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = "application/x-www-form-urlencoded"
		}
	}

	resp, err := s.fetcher.Fetch(ctx, &types.FetchRequest{
		Method:       method,
		URL:          req.URL,
		Headers:      headers,
		Body:         body,
		ForceUTLS:    req.CF,
		MaxBodyBytes: s.maxBodyBytes,
	})
	if err != nil {
		return nil, err
	}

	return &ForwardResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

func (s *ForwardService) viaFlareSolverr(ctx context.Context, method, target string, form url.Values) (*ForwardResponse, error) {
	var (
		fsResp *flaresolverr.Response
		err    error
	)
	if method == http.MethodPost {
		fsResp, err = s.flare.Post(ctx, target, form, nil)
	} else {
		fsResp, err = s.flare.Get(ctx, target, nil)
	}
	if err != nil {
		return nil, err
	}

	body := []byte(fsResp.Solution.Response)
	if s.maxBodyBytes > 0 && int64(len(body)) > s.maxBodyBytes {
		return nil, fmt.Errorf("flaresolverr response exceeds %d bytes", s.maxBodyBytes)
	}

	status := fsResp.Solution.Status
	if status == 0 {
		status = http.StatusOK
	}

	return &ForwardResponse{
		StatusCode:  status,
		ContentType: fsResp.Solution.ContentType(),
		Body:        body,
	}, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
