package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"media-enrichment-service/internal/models"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var urls []string

	cmd := &cobra.Command{
		Use:   "process --url <source-url>",
		Short: "Enrich one or more source URLs and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(urls) == 0 {
				return errors.New("at least one --url is required")
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			application, err := ctx.application(runCtx)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			var failed []error
			out := cmd.OutOrStdout()
			for _, u := range urls {
				res, err := application.Pipeline.Handle(runCtx, models.PipelineEvent{SourceURL: u})
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", u, err)
					failed = append(failed, fmt.Errorf("%s: %w", u, err))
					continue
				}
				fmt.Fprintf(out, "OK   %s\n     audio:   %s\n     caption: %s (%d cues, %d words)\n",
					u, res.AudioURL, res.CaptionURL, res.CueCount, res.WordCount)
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().StringArrayVar(&urls, "url", nil, "Source media URL (repeatable)")
	return cmd
}
