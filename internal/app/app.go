// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"quickwatch-go/pkg/appctx"
	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/extractors"
	"quickwatch-go/pkg/flaresolverr"
	"quickwatch-go/pkg/handlers/api"
	"quickwatch-go/pkg/handlers/streams"
	"quickwatch-go/pkg/httpclient"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/metrics"
	"quickwatch-go/pkg/registry"
	"quickwatch-go/pkg/sandbox"
	"quickwatch-go/pkg/server"
	"quickwatch-go/pkg/services"
)

// App is the main application container.
type App struct {
	Ctx            *appctx.Context
	Server         *server.Server
	HTTPClient     *httpclient.Client
	StreamHandlers *registry.StreamHandlerRegistry
	Extractor      *extractors.OnionflixerExtractor
}

// New wires the application from cfg.
func New(cfg *config.Config, log *logging.Logger, version string) (*App, error) {
	log.Info("initializing quickwatch", "version", version, "port", cfg.Port, "log_level", cfg.LogLevel)

	// Create application context
	ctx := appctx.New(cfg, log).WithVersion(version)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		ctx.WithMetrics(m)
	}

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Script sandbox for stages 7 and 8
	if _, err := exec.LookPath(cfg.ScriptRuntime); err != nil {
		log.Warn("script runtime not found, extractions will fail at the interpreter stages",
			"runtime", cfg.ScriptRuntime,
			"error", err,
		)
	}
	permissionFlag, err := scriptPermissionFlag(cfg, log)
	if err != nil {
		return nil, err
	}
	runner := sandbox.NewRunner(sandbox.Options{
		Runtime:         cfg.ScriptRuntime,
		PermissionModel: cfg.ScriptPermissionModel,
		PermissionFlag:  permissionFlag,
		MaxOutputBytes:  cfg.ScriptMaxOutputBytes,
	}, log)

	extractor := extractors.NewOnionflixerExtractor(httpClient, runner, extractors.OnionflixerOptions{
		BaseURL:       cfg.OnionflixerBaseURL,
		Referer:       cfg.OnionflixerReferer,
		FetchTimeout:  cfg.OnionflixerFetchTimeout,
		ScriptTimeout: cfg.ScriptTimeout,
		NativeDecode:  cfg.OnionflixerNativeDecode,
	}, log, m)

	// Initialize stream handler registry
	streamHandlers := registry.NewStreamHandlerRegistry()
	registerStreamHandlers(streamHandlers, httpClient, log, cfg.APIPassword)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	// Create services
	proxyService := services.NewProxyService(log, streamHandlers, ctx.BaseURL, cfg.APIPassword)
	ctx.WithProxyService(proxyService).
		WithExtractService(services.NewExtractService(extractor, proxyService, cfg.ExtractCacheTTL, m, log)).
		WithForwardService(services.NewForwardService(httpClient, flareClient, cfg.ProxyMaxBodyBytes, cfg.ProxyDefaultTimeout, log))

	// Create HTTP server
	srv := server.New(cfg, log, m)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:            ctx,
		Server:         srv,
		HTTPClient:     httpClient,
		StreamHandlers: streamHandlers,
		Extractor:      extractor,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting quickwatch server", "port", a.Ctx.Config.Port, "base_url", a.Ctx.BaseURL)
	return a.Server.Start()
}

// scriptPermissionFlag resolves the sandbox permission flag, asking the
// runtime for its version when none is configured. Startup fails when the
// permission model is on and the runtime cannot enforce it.
func scriptPermissionFlag(cfg *config.Config, log *logging.Logger) (string, error) {
	if !cfg.ScriptPermissionModel {
		log.Warn("script permission model disabled, snippets run with filesystem and process access",
			"runtime", cfg.ScriptRuntime,
		)
		return "", nil
	}
	if cfg.ScriptPermissionFlag != "" {
		return cfg.ScriptPermissionFlag, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flag, err := sandbox.DetectPermissionFlag(ctx, cfg.ScriptRuntime)
	if err != nil {
		return "", fmt.Errorf("script sandbox unavailable (set SCRIPT_PERMISSION_MODEL=false to run unsandboxed): %w", err)
	}
	log.Info("script permission model enabled", "runtime", cfg.ScriptRuntime, "flag", flag)
	return flag, nil
}

// registerStreamHandlers registers all stream handlers.
// Handlers are matched in registration order; the generic handler is the fallback.
func registerStreamHandlers(
	reg *registry.StreamHandlerRegistry,
	client *httpclient.Client,
	log *logging.Logger,
	apiPassword string,
) {
	// Register HLS handler
	reg.Register(streams.NewHLSHandler(client, log, apiPassword))

	// Register generic handler as fallback
	reg.SetFallback(streams.NewGenericHandler(client, log))

	log.Debug("registered stream handlers", "count", len(reg.All())+1) // +1 for fallback
}
