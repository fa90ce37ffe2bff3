package streams

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
)

var genericExtensions = []string{".mp4", ".mkv", ".avi", ".webm", ".ts", ".m4s", ".m4v", ".mov", ".vtt", ".srt"}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".ts":   "video/MP2T",
	".m4s":  "video/iso.segment",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".mp3":  "audio/mpeg",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
}

// GenericHandler handles progressive files, segments and subtitle tracks.
// It is also the fallback for URLs no other handler claims.
type GenericHandler struct {
	client *httpclient.Client
	log    *logging.Logger
}

// NewGenericHandler creates a new generic stream handler.
func NewGenericHandler(client *httpclient.Client, log *logging.Logger) *GenericHandler {
	return &GenericHandler{
		client: client,
		log:    log.WithComponent("generic-handler"),
	}
}

// Type returns the stream type.
func (h *GenericHandler) Type() types.StreamType {
	return types.StreamTypeGeneric
}

// CanHandle returns true for generic stream types.
func (h *GenericHandler) CanHandle(urlStr string) bool {
	lower := strings.ToLower(urlStr)
	for _, ext := range genericExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// HandleManifest is not applicable for generic streams, returns the stream directly.
func (h *GenericHandler) HandleManifest(ctx context.Context, req *types.StreamRequest, baseURL string) (*types.StreamResponse, error) {
	// For generic streams, just proxy the content directly
	return h.HandleSegment(ctx, req)
}

// HandleSegment proxies the stream content.
func (h *GenericHandler) HandleSegment(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error) {
	h.log.Debug("handling generic stream", "url", req.URL, "range", req.Range)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Apply headers
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
		return nil, fmt.Errorf("failed to fetch stream: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessContentType(req.URL)
	}

	return &types.StreamResponse{
		ContentType: contentType,
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
		Headers:     passthroughHeaders(resp.Header),
	}, nil
}

// guessContentType guesses the content type based on file extension.
func guessContentType(urlStr string) string {
	if i := strings.IndexByte(urlStr, '?'); i >= 0 {
		urlStr = urlStr[:i]
	}
	ext := strings.ToLower(path.Ext(urlStr))

	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

var _ interfaces.StreamHandler = (*GenericHandler)(nil)
