// Package services holds the application services behind the HTTP API:
// extraction, request forwarding and stream proxying.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"quickwatch-go/pkg/handlers/streams"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/registry"
	"quickwatch-go/pkg/types"
)

// ProxyService routes manifest and segment requests to stream handlers.
type ProxyService struct {
	log            *logging.Logger
	streamHandlers *registry.StreamHandlerRegistry
	baseURL        string
	apiPassword    string
}

// NewProxyService creates a new proxy service. baseURL is the public address
// the rewritten manifests point back to.
func NewProxyService(
	log *logging.Logger,
	streamHandlers *registry.StreamHandlerRegistry,
	baseURL string,
	apiPassword string,
) *ProxyService {
	return &ProxyService{
		log:            log.WithComponent("proxy-service"),
		streamHandlers: streamHandlers,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiPassword:    apiPassword,
	}
}

// HandleManifest processes a manifest request.
func (s *ProxyService) HandleManifest(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	s.log.Debug("handling manifest request", "url", req.URL)

	req.URL = s.decodeURL(req.URL)

	handler := s.streamHandlers.Get(req.URL)
	if handler == nil {
		return nil, fmt.Errorf("no handler for URL: %s", req.URL)
	}

	s.log.Debug("using stream handler", "type", handler.Type(), "url", req.URL)

	return handler.HandleManifest(ctx, req, s.baseURL)
}

// HandleSegment processes a segment request.
func (s *ProxyService) HandleSegment(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	s.log.Debug("handling segment request", "url", req.URL, "range", req.Range)

	req.URL = s.decodeURL(req.URL)

	handler := s.streamHandlers.Get(req.URL)
	if handler == nil {
		// Fall back to generic handler
		handler = s.streamHandlers.GetByType(types.StreamTypeGeneric)
	}

	if handler == nil {
		return nil, fmt.Errorf("no handler for URL: %s", req.URL)
	}

	return handler.HandleSegment(ctx, req)
}

// ManifestProxyURL returns the proxied playlist URL for an extracted manifest.
func (s *ProxyService) ManifestProxyURL(manifestURL string, headers map[string]string) string {
	return streams.BuildProxyURL(s.baseURL+"/proxy/manifest.m3u8", manifestURL, headers, s.apiPassword)
}

// decodeURL accepts plain, percent-encoded and base64-encoded target URLs.
func (s *ProxyService) decodeURL(urlStr string) string {
	if urlStr == "" {
		return urlStr
	}

	if strings.HasPrefix(urlStr, "http%3A") || strings.HasPrefix(urlStr, "https%3A") {
		if decoded, err := url.QueryUnescape(urlStr); err == nil {
			return decoded
		}
	}

	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	// Add padding if needed
	padded := urlStr
	switch len(urlStr) % 4 {
	case 2:
		padded += "=="
	case 3:
		padded += "="
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(padded); err == nil {
			decodedStr := string(decoded)
			if strings.HasPrefix(decodedStr, "http://") || strings.HasPrefix(decodedStr, "https://") {
				return decodedStr
			}
		}
	}

	return urlStr
}
