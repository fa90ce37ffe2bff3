// Package extractors resolves content references to playable manifests by
// unwinding the obfuscation layers of the hosting pages.
//
// Every extractor is a fixed sequence of stages. A stage either produces its
// artifact or fails the whole run with a *StageError; there is no retry or
// partial result inside a run.
package extractors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"
)

// defaultMaxPageBytes caps a buffered page.
const defaultMaxPageBytes = 8 << 20

// BaseExtractor provides the page fetching shared by extractors.
type BaseExtractor struct {
	fetcher      interfaces.Fetcher
	log          *logging.Logger
	fetchTimeout time.Duration
	maxPageBytes int64
}

// NewBaseExtractor creates a new base extractor. A zero fetchTimeout leaves
// fetches bounded only by the caller's context.
func NewBaseExtractor(fetcher interfaces.Fetcher, log *logging.Logger, fetchTimeout time.Duration) *BaseExtractor {
	return &BaseExtractor{
		fetcher:      fetcher,
		log:          log,
		fetchTimeout: fetchTimeout,
		maxPageBytes: defaultMaxPageBytes,
	}
}

// FetchPage GETs pageURL with the given headers and returns the body as text.
// Failures are reported as a *StageError for stage.
func (b *BaseExtractor) FetchPage(ctx context.Context, stage int, pageURL string, headers map[string]string) (string, error) {
	if b.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.fetcher.Fetch(ctx, &types.FetchRequest{
		URL:          pageURL,
		Headers:      headers,
		MaxBodyBytes: b.maxPageBytes,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &StageError{Stage: stage, Kind: ErrTimeout, Detail: "fetch timed out", Err: err}
		}
		return "", &StageError{Stage: stage, Kind: ErrFetch, Detail: "request failed", Err: err}
	}
	if !resp.OK() {
		return "", &StageError{Stage: stage, Kind: ErrFetch, Detail: fmt.Sprintf("upstream returned status %d", resp.StatusCode)}
	}
	if len(resp.Body) == 0 {
		return "", &StageError{Stage: stage, Kind: ErrFetch, Detail: "empty response"}
	}

	b.log.Debug("fetched page",
		"stage", stage,
		"url", pageURL,
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return string(resp.Body), nil
}
