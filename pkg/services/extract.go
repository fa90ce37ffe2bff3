package services

import (
	"context"
	"time"

	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/metrics"
	"quickwatch-go/pkg/types"

	cache "github.com/patrickmn/go-cache"
)

// ExtractService runs content extractions for the API, memoizing results
// for a short time.
type ExtractService struct {
	extractor interfaces.ContentExtractor
	proxy     *ProxyService
	cache     *cache.Cache
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewExtractService creates an extraction service. A ttl of zero disables the
// result cache. proxy and m may be nil.
func NewExtractService(extractor interfaces.ContentExtractor, proxy *ProxyService, ttl time.Duration, m *metrics.Metrics, log *logging.Logger) *ExtractService {
	s := &ExtractService{
		extractor: extractor,
		proxy:     proxy,
		metrics:   m,
		log:       log.WithComponent("extract-service"),
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Extract resolves ref, serving repeated requests from the cache. Failures
// are never cached.
func (s *ExtractService) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	key := ref.CacheKey()
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.ObserveCache(true)
			s.log.Debug("extraction cache hit", "content", key)
			return copyResult(cached.(*types.ExtractResult)), nil
		}
		s.metrics.ObserveCache(false)
	}

	result, err := s.extractor.Extract(ctx, ref)
	if err != nil {
		return nil, err
	}

	if s.proxy != nil {
		result.ProxyURL = s.proxy.ManifestProxyURL(result.ManifestURL, result.RequestHeaders)
	}

	if s.cache != nil {
		s.cache.Set(key, copyResult(result), cache.DefaultExpiration)
	}
	return result, nil
}

// copyResult returns a copy that shares no mutable state with r.
func copyResult(r *types.ExtractResult) *types.ExtractResult {
	out := *r
	if r.RequestHeaders != nil {
		out.RequestHeaders = make(map[string]string, len(r.RequestHeaders))
		for k, v := range r.RequestHeaders {
			out.RequestHeaders[k] = v
		}
	}
	if r.Subtitles != nil {
		out.Subtitles = append([]types.Subtitle(nil), r.Subtitles...)
	}
	return &out
}
