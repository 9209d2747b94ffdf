package main

import (
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume upload events and enrich each asset until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			application, err := ctx.application(runCtx)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			src, err := application.Source()
			if err != nil {
				return err
			}
			return application.Serve(runCtx, src)
		},
	}
}
