// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/metrics"
	"quickwatch-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config         *config.Config
	Log            *logging.Logger
	Metrics        *metrics.Metrics
	ProxyService   *services.ProxyService
	ExtractService *services.ExtractService
	ForwardService *services.ForwardService
	BaseURL        string
	Version        string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: cfg.BaseURL,
		Version: "dev",
	}
}

// WithMetrics sets the metrics registry.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}

// WithExtractService sets the extraction service.
func (c *Context) WithExtractService(es *services.ExtractService) *Context {
	c.ExtractService = es
	return c
}

// WithForwardService sets the forwarding service.
func (c *Context) WithForwardService(fs *services.ForwardService) *Context {
	c.ForwardService = fs
	return c
}

// WithVersion sets the version reported by the info endpoint.
func (c *Context) WithVersion(v string) *Context {
	if v != "" {
		c.Version = v
	}
	return c
}
