// Package streams provides stream handler implementations.
package streams

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
	"quickwatch-go/pkg/urlutil"
)

// maxManifestBytes caps a buffered playlist.
const maxManifestBytes = 10 << 20

// HLSHandler processes HLS (M3U8) streams.
type HLSHandler struct {
	client      *httpclient.Client
	log         *logging.Logger
	apiPassword string
}

// NewHLSHandler creates a new HLS stream handler. A non-empty apiPassword is
// carried on every rewritten URL so players can follow them.
func NewHLSHandler(client *httpclient.Client, log *logging.Logger, apiPassword string) *HLSHandler {
	return &HLSHandler{
		client:      client,
		log:         log.WithComponent("hls-handler"),
		apiPassword: apiPassword,
	}
}

// Type returns the stream type.
func (h *HLSHandler) Type() types.StreamType {
	return types.StreamTypeHLS
}

// CanHandle returns true if the URL appears to be an HLS stream.
func (h *HLSHandler) CanHandle(urlStr string) bool {
	lower := strings.ToLower(urlStr)
	// Check for .m3u8 extension (most common HLS indicator)
	if strings.Contains(lower, ".m3u8") {
		return true
	}
	// Check for /hls/ path segment
	if strings.Contains(lower, "/hls/") {
		return true
	}
	// Playlists served without extension usually carry "playlist" or "manifest"
	if (strings.Contains(lower, "manifest") || strings.Contains(lower, "playlist")) &&
		!strings.Contains(lower, ".mpd") &&
		!strings.Contains(lower, "format=mpd") {
		return true
	}
	return false
}

// HandleManifest fetches and rewrites an HLS manifest.
func (h *HLSHandler) HandleManifest(ctx context.Context, req *types.StreamRequest, baseURL string) (*types.StreamResponse, error) {
	h.log.Debug("handling HLS manifest",
		"url", req.URL,
		"headers", req.Headers,
	)

	resp, err := h.client.Fetch(ctx, &types.FetchRequest{
		URL:          req.URL,
		Headers:      req.Headers,
		MaxBodyBytes: maxManifestBytes,
	})
	if err != nil {
		h.log.Error("failed to fetch manifest", "url", req.URL, "error", err)
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	h.log.Debug("manifest fetch response", "url", req.URL, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		h.log.Warn("manifest fetch failed", "url", req.URL, "status", resp.StatusCode)
		return &types.StreamResponse{
			StatusCode: resp.StatusCode,
		}, nil
	}

	// Redirects move the base for relative entries
	manifestURL := resp.FinalURL
	if manifestURL == "" {
		manifestURL = req.URL
	}

	rewritten, err := h.rewriteManifest(resp.Body, manifestURL, baseURL, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite manifest: %w", err)
	}

	return &types.StreamResponse{
		ContentType: "application/vnd.apple.mpegurl",
		Body:        io.NopCloser(bytes.NewReader(rewritten)),
		StatusCode:  http.StatusOK,
		Headers: map[string]string{
			"Cache-Control": "no-cache, no-store, must-revalidate",
		},
	}, nil
}

// HandleSegment proxies an HLS segment.
func (h *HLSHandler) HandleSegment(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	h.log.Debug("handling HLS segment", "url", req.URL, "range", req.Range)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", httpclient.DefaultUserAgent)
	}
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch segment: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/MP2T"
	}

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
		Headers:     passthroughHeaders(resp.Header),
	}, nil
}

// rewriteManifest rewrites URLs in an HLS manifest to route through the proxy.
func (h *HLSHandler) rewriteManifest(manifest []byte, originalURL, proxyBaseURL string, headers map[string]string) ([]byte, error) {
	baseURL, err := url.Parse(originalURL)
	if err != nil {
		return nil, err
	}

	h.log.Debug("rewriting manifest",
		"original_url", originalURL,
		"manifest_size", len(manifest),
	)

	var result bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	scanner.Buffer(make([]byte, 0, 64*1024), maxManifestBytes)

	// variantNext is set by #EXT-X-STREAM-INF: the next URI line is a
	// media playlist, whatever its path looks like.
	variantNext := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		// Skip empty lines
		if strings.TrimSpace(line) == "" {
			result.WriteString(line + "\n")
			continue
		}

		// Handle tags
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
				variantNext = true
			}
			// Rewrite URI in tags like #EXT-X-KEY, #EXT-X-MAP, #EXT-X-MEDIA
			if strings.Contains(line, "URI=") {
				line = h.rewriteURITag(line, baseURL, proxyBaseURL, headers, tagReferencesPlaylist(line))
			}
			result.WriteString(line + "\n")
			continue
		}

		target := h.resolveURL(strings.TrimSpace(line), baseURL)
		playlist := variantNext || isPlaylistPath(target)
		variantNext = false
		result.WriteString(h.buildProxyURL(target, proxyBaseURL, headers, playlist) + "\n")
	}

	return result.Bytes(), scanner.Err()
}

// rewriteURITag rewrites the URI attribute in HLS tags.
func (h *HLSHandler) rewriteURITag(line string, baseURL *url.URL, proxyBaseURL string, headers map[string]string, playlist bool) string {
	// Find URI="..." pattern
	start := strings.Index(line, "URI=\"")
	if start == -1 {
		return line
	}
	start += 5 // Skip 'URI="'

	end := strings.Index(line[start:], "\"")
	if end == -1 {
		return line
	}

	uri := line[start : start+end]
	// Inline keys are left alone
	if strings.HasPrefix(uri, "data:") {
		return line
	}
	resolvedURL := h.resolveURL(uri, baseURL)

	proxyURL := h.buildProxyURL(resolvedURL, proxyBaseURL, headers, playlist)
	return line[:start] + proxyURL + line[start+end:]
}

// resolveURL resolves a manifest reference against the manifest's own URL.
func (h *HLSHandler) resolveURL(urlStr string, base *url.URL) string {
	return urlutil.Resolve(urlStr, base.String())
}

// tagReferencesPlaylist reports whether the URI attribute of tag names a
// playlist (renditions and I-frame variants) rather than a key or init segment.
func tagReferencesPlaylist(tag string) bool {
	return strings.HasPrefix(tag, "#EXT-X-MEDIA:") || strings.HasPrefix(tag, "#EXT-X-I-FRAME-STREAM-INF")
}

// isPlaylistPath reports whether the URL path, ignoring the query, ends in a
// playlist extension.
func isPlaylistPath(target string) bool {
	p := target
	if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	p = strings.ToLower(p)
	return strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u")
}

// buildProxyURL builds a proxy URL with the target URL and headers encoded.
// Playlists go to the manifest endpoint so they are rewritten in turn;
// everything else is relayed byte for byte.
func (h *HLSHandler) buildProxyURL(targetURL, proxyBaseURL string, headers map[string]string, playlist bool) string {
	path := "/proxy/stream"
	if playlist {
		path = "/proxy/manifest.m3u8"
	}

	return BuildProxyURL(proxyBaseURL+path, targetURL, headers, h.apiPassword)
}

// BuildProxyURL returns endpoint with the target URL and its request headers
// as query parameters.
func BuildProxyURL(endpoint, targetURL string, headers map[string]string, apiPassword string) string {
	proxyURL, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	query := proxyURL.Query()
	query.Set("url", targetURL)

	for key, value := range headers {
		query.Set("h_"+strings.ReplaceAll(key, "-", "_"), value)
	}
	if apiPassword != "" {
		query.Set("api_password", apiPassword)
	}

	proxyURL.RawQuery = query.Encode()
	return proxyURL.String()
}

// passthroughHeaders copies the upstream headers a player needs for ranged playback.
func passthroughHeaders(upstream http.Header) map[string]string {
	headers := make(map[string]string)
	for _, key := range []string{"Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"} {
		if v := upstream.Get(key); v != "" {
			headers[key] = v
		}
	}
	if headers["Accept-Ranges"] == "" {
		headers["Accept-Ranges"] = "bytes"
	}
	return headers
}

// Ensure HLSHandler implements StreamHandler.
var _ interfaces.StreamHandler = (*HLSHandler)(nil)
