package main

import (
	"errors"
	"fmt"

	"quickwatch-go/pkg/extractors"
	"quickwatch-go/pkg/types"

	"github.com/spf13/cobra"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Resolve a title to its HLS manifest URL",
	}
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:     "movie <imdbId>",
		Short:   "Resolve a movie by IMDb id",
		Example: "  quickwatch extract movie tt30324320",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, ctx, types.NewMovieRef(args[0]), jsonOutput)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "tv <tmdbId> <season> <episode>",
		Short:   "Resolve a series episode by TMDB id",
		Example: "  quickwatch extract tv 1399 1 2",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, ctx, types.NewEpisodeRef(args[0], args[1], args[2]), jsonOutput)
		},
	})

	return cmd
}

func runExtract(cmd *cobra.Command, ctx *commandContext, ref types.ContentRef, jsonOutput bool) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	cfg, err := ctx.ensureConfig(cmd)
	if err != nil {
		return err
	}
	extract, err := ctx.newExtractor(cfg, ctx.logger(cmd, cfg))
	if err != nil {
		return fmt.Errorf("initialize extractor: %w", err)
	}

	result, err := extract(cmd.Context(), ref)
	if err != nil {
		return describeExtractError(err)
	}

	if jsonOutput {
		return writeJSON(cmd, result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.ManifestURL)
	for _, sub := range result.Subtitles {
		label := sub.Label
		if label == "" {
			label = "subtitle"
		}
		fmt.Fprintf(out, "%s\t%s\n", label, sub.URL)
	}
	return nil
}

func describeExtractError(err error) error {
	var se *extractors.StageError
	if errors.As(err, &se) {
		return fmt.Errorf("extraction failed at stage %d: %s", se.Stage, se.Reason())
	}
	return fmt.Errorf("extraction failed: %w", err)
}
