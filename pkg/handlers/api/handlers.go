// Package api provides HTTP handlers for the quickwatch API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"quickwatch-go/pkg/appctx"
	"quickwatch-go/pkg/extractors"
	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/services"
	"quickwatch-go/pkg/types"

	"github.com/goccy/go-json"
)

// maxRequestBodyBytes caps JSON request bodies.
const maxRequestBodyBytes = 64 << 10

const msgUnexpected = "An unexpected error occurred."

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)

	// Extraction and forwarding
	mux.HandleFunc("POST /api/onionflixer", h.handleOnionflixer)
	mux.HandleFunc("POST /api/proxy", h.handleForward)

	// Stream proxy routes
	mux.HandleFunc("GET /proxy/manifest.m3u8", h.handleProxyManifest)
	mux.HandleFunc("GET /proxy/stream", h.handleProxyStream)

	if h.ctx.Metrics != nil {
		mux.Handle("GET /metrics", h.ctx.Metrics.Handler())
	}
}

// handleIndex serves a short overview of the endpoints.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>quickwatch</title></head>
<body>
    <h1>quickwatch %s</h1>
    <ul>
        <li><code>POST /api/onionflixer</code> resolve a movie or episode to an HLS manifest</li>
        <li><code>POST /api/proxy</code> forward a GET or POST request</li>
        <li><code>GET /proxy/manifest.m3u8?url=</code> proxied HLS playlist</li>
        <li><code>GET /proxy/stream?url=</code> proxied segment or file</li>
        <li><code>GET /api/info</code>, <code>GET /healthz</code>, <code>GET /metrics</code></li>
    </ul>
</body>
</html>`, h.ctx.Version)
}

// handleHealth reports liveness.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	cfg := h.ctx.Config
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "running",
		"version":       h.ctx.Version,
		"extractor":     "onionflixer",
		"native_decode": cfg.OnionflixerNativeDecode,
		"cache_ttl_s":   int(cfg.ExtractCacheTTL.Seconds()),
		"flaresolverr":  cfg.FlareSolverrURL != "",
		"auth":          cfg.APIPassword != "",
	})
}

// handleFavicon serves the favicon.
func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// onionflixerRequest is the body of POST /api/onionflixer. Identifiers are
// accepted as strings or numbers; tmdb_id is an alias for tmdbId.
type onionflixerRequest struct {
	Type      string     `json:"type"`
	IMDbID    flexString `json:"imdbId"`
	TMDbID    flexString `json:"tmdbId"`
	TMDbIDAlt flexString `json:"tmdb_id"`
	Season    flexString `json:"season"`
	Episode   flexString `json:"episode"`
}

// ref validates the request in the order the frontend expects its messages.
func (req *onionflixerRequest) ref() (types.ContentRef, string) {
	tmdbID := req.TMDbID
	if tmdbID == "" {
		tmdbID = req.TMDbIDAlt
	}

	switch {
	case req.Type == "":
		return types.ContentRef{}, "type is required"
	case req.Type != string(types.ContentMovie) && req.Type != string(types.ContentSeries):
		return types.ContentRef{}, `type must be "movie" or "tv"`
	case req.Type == string(types.ContentMovie) && req.IMDbID == "":
		return types.ContentRef{}, "imdbId is required for movies"
	case req.Type == string(types.ContentSeries) && (tmdbID == "" || req.Season == "" || req.Episode == ""):
		return types.ContentRef{}, "tmdbId, season, and episode are required for TV shows"
	}

	if req.Type == string(types.ContentMovie) {
		return types.NewMovieRef(string(req.IMDbID)), ""
	}
	return types.NewEpisodeRef(string(tmdbID), string(req.Season), string(req.Episode)), ""
}

// handleOnionflixer resolves a movie or episode to its manifest URL.
func (h *Handlers) handleOnionflixer(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	var req onionflixerRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ref, msg := req.ref()
	if msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := h.ctx.ExtractService.Extract(r.Context(), ref)
	if err != nil {
		if errors.Is(err, types.ErrInvalidRef) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var se *extractors.StageError
		if errors.As(err, &se) {
			status := http.StatusBadGateway
			if errors.Is(err, extractors.ErrTimeout) {
				status = http.StatusGatewayTimeout
			}
			log.WithContent(ref).Warn("onionflixer extraction failed",
				"stage", se.Stage,
				"reason", se.Reason(),
			)
			h.writeJSON(w, status, map[string]string{
				"error": "extraction failed",
				"stage": strconv.Itoa(se.Stage),
			})
			return
		}

		log.WithContent(ref).WithError(err).Error("onionflixer request failed")
		h.writeError(w, http.StatusInternalServerError, msgUnexpected)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handleForward relays a GET or POST request and returns the upstream body.
func (h *Handlers) handleForward(w http.ResponseWriter, r *http.Request) {
	log := h.requestLogger(r)

	var req types.ForwardRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.ctx.ForwardService.Forward(r.Context(), &req)
	if err != nil {
		var statusErr *services.UpstreamStatusError
		switch {
		case errors.Is(err, services.ErrURLRequired):
			h.writeError(w, http.StatusBadRequest, "URL is required")
		case errors.Is(err, services.ErrMethodNotAllowed):
			h.writeError(w, http.StatusBadRequest, "Only GET and POST methods are allowed")
		case errors.Is(err, services.ErrInvalidURL):
			h.writeError(w, http.StatusBadRequest, "URL must be an absolute http or https URL")
		case errors.As(err, &statusErr):
			h.writeError(w, http.StatusBadGateway, statusErr.Error())
		case errors.Is(err, context.DeadlineExceeded):
			h.writeError(w, http.StatusGatewayTimeout, "upstream timed out")
		default:
			log.Error("forward request failed", "url", req.URL, "error", err)
			h.writeError(w, http.StatusBadGateway, msgUnexpected)
		}
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

// handleProxyManifest serves a rewritten HLS playlist.
func (h *Handlers) handleProxyManifest(w http.ResponseWriter, r *http.Request) {
	req := h.parseStreamRequest(r)
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	h.log.Debug("proxy manifest request", "url", req.URL)

	resp, err := h.ctx.ProxyService.HandleManifest(r.Context(), req)
	if err != nil {
		h.log.Error("proxy manifest failed", "url", req.URL, "error", err)
		h.writeError(w, http.StatusBadGateway, "failed to fetch manifest")
		return
	}

	h.writeStreamResponse(w, resp)
}

// handleProxyStream handles segment, file and subtitle proxy requests.
func (h *Handlers) handleProxyStream(w http.ResponseWriter, r *http.Request) {
	req := h.parseStreamRequest(r)
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	h.log.Debug("proxy stream request", "url", req.URL)

	resp, err := h.ctx.ProxyService.HandleSegment(r.Context(), req)
	if err != nil {
		h.log.Error("proxy stream failed", "url", req.URL, "error", err)
		h.writeError(w, http.StatusBadGateway, "failed to fetch stream")
		return
	}

	h.writeStreamResponse(w, resp)
}

// Helper methods

func (h *Handlers) requestLogger(r *http.Request) *logging.Logger {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return h.log.WithRequestID(id)
	}
	return h.log
}

func (h *Handlers) parseStreamRequest(r *http.Request) *types.StreamRequest {
	urlStr := r.URL.Query().Get("url")
	if urlStr == "" {
		urlStr = r.URL.Query().Get("d")
	}

	return &types.StreamRequest{
		URL:     urlStr,
		Headers: httpclient.ParseHeaderParams(r.URL.Query()),
		Range:   r.Header.Get("Range"),
	}
}

func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handlers) writeStreamResponse(w http.ResponseWriter, resp *types.StreamResponse) {
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Body != nil {
		if _, err := io.Copy(w, resp.Body); err != nil {
			h.log.Debug("stream copy interrupted", "error", err)
		}
	}
}
