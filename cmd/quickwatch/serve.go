package main

import (
	"fmt"

	"quickwatch-go/internal/app"

	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx)
		},
	}
}

func runServe(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig(cmd)
	if err != nil {
		return err
	}
	log := ctx.logger(cmd, cfg)

	a, err := app.New(cfg, log, version)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	if err := a.Run(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
