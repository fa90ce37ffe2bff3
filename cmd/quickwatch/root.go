package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWithContext(newCommandContext())
}

func newRootCommandWithContext(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "quickwatch",
		Short:         "Resolve onionflixer titles to playable HLS manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx)
		},
	}

	rootCmd.PersistentFlags().IntVarP(&ctx.port, "port", "p", 5001, "HTTP listen port (overrides PORT)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "info", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&ctx.logJSON, "log-json", false, "Emit JSON logs (overrides LOG_JSON)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newExtractCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
