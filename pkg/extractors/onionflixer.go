package extractors

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/juicycodes"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/metrics"
	"quickwatch-go/pkg/types"
	"quickwatch-go/pkg/urlutil"
)

// Pipeline stages, in execution order.
const (
	StageLandingPage = iota + 1
	StageInlineScript
	StageCharDecode
	StageRedirect
	StageRedirectPage
	StagePayload
	StagePayloadDecode
	StageEval
	StageManifest
)

// OnionflixerOptions configures an OnionflixerExtractor.
type OnionflixerOptions struct {
	// BaseURL is the landing site, without a trailing slash.
	BaseURL string
	// Referer is sent with the landing page request.
	Referer string
	// FetchTimeout bounds each page fetch.
	FetchTimeout time.Duration
	// ScriptTimeout bounds each interpreter call.
	ScriptTimeout time.Duration
	// NativeDecode decodes plain string payloads in-process instead of
	// through the interpreter.
	NativeDecode bool
}

// OnionflixerExtractor unwinds the onionflixer player pages:
// landing page, char-code table, redirect page, JuicyCodes payload,
// eval'd player config, manifest URL.
type OnionflixerExtractor struct {
	*BaseExtractor
	runner  interfaces.ScriptRunner
	opts    OnionflixerOptions
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewOnionflixerExtractor creates a new onionflixer extractor.
// m may be nil.
func NewOnionflixerExtractor(fetcher interfaces.Fetcher, runner interfaces.ScriptRunner, opts OnionflixerOptions, log *logging.Logger, m *metrics.Metrics) *OnionflixerExtractor {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 10 * time.Second
	}
	log = log.WithComponent("onionflixer-extractor")
	return &OnionflixerExtractor{
		BaseExtractor: NewBaseExtractor(fetcher, log, opts.FetchTimeout),
		runner:        runner,
		opts:          opts,
		log:           log,
		metrics:       m,
	}
}

// Name returns the extractor name.
func (e *OnionflixerExtractor) Name() string {
	return "onionflixer"
}

// Extract resolves ref to a manifest URL. Invalid refs fail with
// types.ErrInvalidRef before anything is fetched; every other failure is a
// *StageError.
func (e *OnionflixerExtractor) Extract(ctx context.Context, ref types.ContentRef) (*types.ExtractResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := e.run(ctx, ref)
	duration := time.Since(start)
	e.metrics.ObserveExtraction(StageOf(err), err, duration)

	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			e.log.WithContent(ref).Warn("extraction failed",
				"stage", se.Stage,
				"reason", se.Reason(),
				"error", err,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return nil, err
	}

	e.log.WithContent(ref).Info("extraction complete",
		"manifest", result.ManifestURL,
		"subtitles", len(result.Subtitles),
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

func (e *OnionflixerExtractor) run(ctx context.Context, ref types.ContentRef) (*types.ExtractResult, error) {
	log := e.log.WithContent(ref)

	// Stage 1: landing page
	landingURL := e.opts.BaseURL + "/" + url.PathEscape(ref.Path())
	page, err := e.FetchPage(ctx, StageLandingPage, landingURL, map[string]string{
		"Referer": e.opts.Referer,
	})
	if err != nil {
		return nil, err
	}
	log.WithStage(StageLandingPage).Debug("stage complete", "url", landingURL)

	// Stage 2: inline script, char-code table and shift constant
	script := findScriptBlock(page)
	if script == "" {
		return nil, parseError(StageInlineScript, "no script block")
	}
	table, err := findCharCodeTable(script)
	if err != nil {
		return nil, parseError(StageInlineScript, err.Error())
	}
	shift, err := findShiftConstant(script)
	if err != nil {
		return nil, parseError(StageInlineScript, err.Error())
	}
	log.WithStage(StageInlineScript).Debug("stage complete", "codes", len(table), "shift", shift)

	// Stage 3: char codes to text
	fragment, err := decodeCharCodes(table, shift)
	if err != nil {
		return nil, &StageError{Stage: StageCharDecode, Kind: ErrDecode, Detail: err.Error()}
	}
	log.WithStage(StageCharDecode).Debug("stage complete", "chars", len(fragment))

	// Stage 4: redirect target
	host := findRedirectHost(fragment)
	if host == "" {
		return nil, parseError(StageRedirect, "no redirect found")
	}
	redirectURL := "https://" + host
	log.WithStage(StageRedirect).Debug("stage complete", "redirect", redirectURL)

	// Stage 5: redirect page, referred by the landing site
	page, err = e.FetchPage(ctx, StageRedirectPage, redirectURL, map[string]string{
		"Referer": e.opts.BaseURL + "/",
	})
	if err != nil {
		return nil, err
	}
	log.WithStage(StageRedirectPage).Debug("stage complete", "url", redirectURL)

	// Stage 6: encoded payload
	payload := findJuicyPayload(page)
	if payload == "" {
		return nil, parseError(StagePayload, "no payload")
	}
	log.WithStage(StagePayload).Debug("stage complete", "payload_bytes", len(payload))

	// Stage 7: payload decode
	decoded, err := e.decodePayload(ctx, payload)
	if err != nil {
		return nil, err
	}
	log.WithStage(StagePayloadDecode).Debug("stage complete", "decoded_bytes", len(decoded))

	// Stage 8: eval'd expression, stringified
	expr := findEvalExpression(decoded)
	if expr == "" {
		return nil, parseError(StageEval, "no eval expression")
	}
	output, err := e.runScript(ctx, StageEval, juicycodes.EvalSnippet(expr))
	if err != nil {
		return nil, err
	}
	log.WithStage(StageEval).Debug("stage complete", "output_bytes", len(output))

	// Stage 9: manifest URL
	manifest := findManifestURL(output)
	if manifest == "" {
		return nil, parseError(StageManifest, "no file field")
	}
	manifest = urlutil.Resolve(manifest, redirectURL)

	subtitles := findSubtitleTracks(output)
	for i := range subtitles {
		subtitles[i].URL = urlutil.Resolve(subtitles[i].URL, redirectURL)
	}
	log.WithStage(StageManifest).Debug("stage complete", "manifest", manifest)

	origin := urlutil.Origin(redirectURL)
	return &types.ExtractResult{
		ManifestURL: manifest,
		RequestHeaders: map[string]string{
			"Referer":    origin + "/",
			"Origin":     origin,
			"User-Agent": httpclient.DefaultUserAgent,
		},
		Subtitles: subtitles,
	}, nil
}

// decodePayload runs the JuicyCodes decoder over the captured argument.
func (e *OnionflixerExtractor) decodePayload(ctx context.Context, payload string) (string, error) {
	if e.opts.NativeDecode {
		if literal, ok := jsStringLiteral(payload); ok {
			decoded, err := juicycodes.Decode(literal)
			if err != nil {
				return "", &StageError{Stage: StagePayloadDecode, Kind: ErrDecode, Detail: "malformed payload", Err: err}
			}
			if decoded == "" {
				return "", &StageError{Stage: StagePayloadDecode, Kind: ErrDecode, Detail: "empty payload"}
			}
			return decoded, nil
		}
		e.log.Debug("payload is not a plain string literal, delegating to interpreter")
	}

	decoded, err := e.runScript(ctx, StagePayloadDecode, juicycodes.Snippet(payload))
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// runScript evaluates snippet within the script timeout. Empty output is a
// failure of the stage.
func (e *OnionflixerExtractor) runScript(ctx context.Context, stage int, snippet string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ScriptTimeout)
	defer cancel()

	out, err := e.runner.Run(ctx, snippet)
	e.metrics.ObserveScript(stage, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &StageError{Stage: stage, Kind: ErrTimeout, Detail: "interpreter timed out", Err: err}
		}
		return "", &StageError{Stage: stage, Kind: ErrScript, Detail: "interpreter failed", Err: err}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", &StageError{Stage: stage, Kind: ErrScript, Detail: "interpreter produced no output"}
	}
	return out, nil
}

var _ interfaces.ContentExtractor = (*OnionflixerExtractor)(nil)
