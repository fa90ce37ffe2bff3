// Package interfaces defines the core abstractions shared by the pipeline,
// the proxy services and their collaborators.
package interfaces

import (
	"context"

	"quickwatch-go/pkg/types"
)

// StreamHandler processes a specific type of stream (HLS, generic).
// Implementations handle manifest rewriting and segment proxying.
type StreamHandler interface {
	// Type returns the stream type this handler processes.
	Type() types.StreamType

	// CanHandle returns true if this handler can process the given URL.
	CanHandle(url string) bool

	// HandleManifest processes and rewrites a manifest, returning the modified content.
	HandleManifest(ctx context.Context, req *types.StreamRequest, baseURL string) (*types.StreamResponse, error)

	// HandleSegment proxies a stream segment.
	HandleSegment(ctx context.Context, req *types.StreamRequest) (*types.StreamResponse, error)
}

// Fetcher performs buffered upstream HTTP requests.
// Implementations own pooling and retries; callers see one response per call.
type Fetcher interface {
	Fetch(ctx context.Context, req *types.FetchRequest) (*types.FetchResponse, error)
}

// ScriptRunner evaluates a small script snippet and returns what it printed.
// Run must return once ctx is done.
type ScriptRunner interface {
	Run(ctx context.Context, snippet string) (string, error)
}

// ContentExtractor resolves a ContentRef to a playable manifest.
type ContentExtractor interface {
	// Name returns a unique identifier for this extractor.
	Name() string

	// Extract runs the extraction for ref.
	Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractResult, error)
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the appropriate component for the given URL.
	Get(url string) T

	// All returns all registered components.
	All() []T
}
