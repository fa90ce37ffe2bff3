package main

import (
	"context"
	"sync"

	"quickwatch-go/internal/app"
	"quickwatch-go/pkg/config"
	"quickwatch-go/pkg/logging"
	"quickwatch-go/pkg/types"

	"github.com/spf13/cobra"
)

type extractFunc func(ctx context.Context, ref types.ContentRef) (*types.ExtractResult, error)

type commandContext struct {
	port     int
	logLevel string
	logJSON  bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// newExtractor builds the extraction entry point used by the extract
	// commands. Tests replace it to avoid the network.
	newExtractor func(cfg *config.Config, log *logging.Logger) (extractFunc, error)
}

func newCommandContext() *commandContext {
	return &commandContext{newExtractor: appExtractor}
}

// ensureConfig loads the environment once and applies flag overrides.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.SetPort(c.port)
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = c.logLevel
		}
		if flags.Changed("log-json") {
			cfg.LogJSON = c.logJSON
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes to stderr so stdout stays clean for command output.
func (c *commandContext) logger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	return logging.New(cfg.LogLevel, cfg.LogJSON, cmd.ErrOrStderr())
}

func appExtractor(cfg *config.Config, log *logging.Logger) (extractFunc, error) {
	a, err := app.New(cfg, log, version)
	if err != nil {
		return nil, err
	}
	return a.Ctx.ExtractService.Extract, nil
}
