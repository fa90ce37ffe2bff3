// Package types defines core domain types used throughout the application.
package types

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ContentKind identifies whether a ContentRef points at a movie or an episode.
type ContentKind string

const (
	ContentMovie  ContentKind = "movie"
	ContentSeries ContentKind = "tv"
)

// ErrInvalidRef is returned when a ContentRef is missing required identifiers.
var ErrInvalidRef = errors.New("invalid content reference")

// ContentRef identifies the movie or episode to resolve.
// Movies need MovieID (an IMDb id); series need SeriesID, Season and Episode.
type ContentRef struct {
	Kind     ContentKind `json:"type"`
	MovieID  string      `json:"imdbId,omitempty"`
	SeriesID string      `json:"tmdbId,omitempty"`
	Season   string      `json:"season,omitempty"`
	Episode  string      `json:"episode,omitempty"`
}

// NewMovieRef returns a ContentRef for a movie.
func NewMovieRef(movieID string) ContentRef {
	return ContentRef{Kind: ContentMovie, MovieID: strings.TrimSpace(movieID)}
}

// NewEpisodeRef returns a ContentRef for a single series episode.
func NewEpisodeRef(seriesID, season, episode string) ContentRef {
	return ContentRef{
		Kind:     ContentSeries,
		SeriesID: strings.TrimSpace(seriesID),
		Season:   strings.TrimSpace(season),
		Episode:  strings.TrimSpace(episode),
	}
}

// Validate checks the identifiers required by the ref's kind.
func (r ContentRef) Validate() error {
	switch r.Kind {
	case ContentMovie:
		if r.MovieID == "" {
			return fmt.Errorf("%w: imdbId is required for movies", ErrInvalidRef)
		}
	case ContentSeries:
		if r.SeriesID == "" || r.Season == "" || r.Episode == "" {
			return fmt.Errorf("%w: tmdbId, season, and episode are required for TV shows", ErrInvalidRef)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidRef)
	default:
		return fmt.Errorf("%w: type must be \"movie\" or \"tv\"", ErrInvalidRef)
	}
	return nil
}

// Path returns the landing page path for the ref, without a leading slash.
func (r ContentRef) Path() string {
	if r.Kind == ContentSeries {
		return r.SeriesID + "-" + r.Season + "-" + r.Episode
	}
	return r.MovieID
}

// CacheKey returns a stable key for result caching.
func (r ContentRef) CacheKey() string {
	return string(r.Kind) + ":" + r.Path()
}

func (r ContentRef) String() string {
	return r.CacheKey()
}

// StreamType identifies the type of stream being handled.
type StreamType string

const (
	StreamTypeHLS     StreamType = "hls"
	StreamTypeGeneric StreamType = "generic"
)

// StreamRequest represents an incoming stream proxy request.
type StreamRequest struct {
	URL     string
	Headers map[string]string
	// Range is forwarded verbatim so players can seek inside progressive files.
	Range string
}

// StreamResponse represents the result of stream processing.
type StreamResponse struct {
	ContentType string
	Headers     map[string]string
	Body        io.ReadCloser
	StatusCode  int
}

// Subtitle is a caption track discovered next to a manifest.
type Subtitle struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// ExtractResult contains the result of a pipeline run.
type ExtractResult struct {
	ManifestURL    string            `json:"m3u8_url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	Subtitles      []Subtitle        `json:"subtitles,omitempty"`
	ProxyURL       string            `json:"proxy_url,omitempty"`
}

// FetchRequest is a single buffered upstream request.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is replayed on every retry attempt.
	Body []byte
	// ForceUTLS selects the browser-fingerprint client regardless of host.
	ForceUTLS bool
	// MaxBodyBytes caps the buffered response body; zero means no cap.
	MaxBodyBytes int64
}

// FetchResponse is a fully buffered upstream response.
type FetchResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// OK reports whether the upstream answered with a 2xx status.
func (r *FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ForwardRequest is the body accepted by the forwarding proxy endpoint.
type ForwardRequest struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	FormData map[string]string `json:"form_data"`
	Timeout  float64           `json:"timeout"`
	CF       bool              `json:"cf"`
}
