package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"media-enrichment-service/internal/app"
	"media-enrichment-service/internal/config"
	"media-enrichment-service/internal/observability/logging"
)

// commandContext carries the loaded configuration to subcommands.
type commandContext struct {
	envFile string
	cfg     *config.Config
}

func (c *commandContext) load() error {
	if err := config.LoadDotEnv(c.envFile); err != nil {
		return err
	}
	c.cfg = config.Load()

	logging.Init(logging.Config{
		Level:      c.cfg.Observability.LogLevel,
		Format:     c.cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	return nil
}

// application builds the wired service; callers must Shutdown it.
func (c *commandContext) application(ctx context.Context) (*app.Application, error) {
	return app.New(ctx, c.cfg)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "enricher",
		Short:         "Extract audio tracks and captions from uploaded media",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newCaptionsCommand(ctx))

	return rootCmd
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
