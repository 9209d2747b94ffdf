package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"media-enrichment-service/internal/media"
	"media-enrichment-service/internal/service/captions"
	"media-enrichment-service/internal/service/transcription"
)

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var (
		wavPath string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "captions --wav <file>",
		Short: "Transcribe a local canonical WAV file and print WEBVTT captions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(wavPath)
			if err != nil {
				return fmt.Errorf("open wav: %w", err)
			}
			defer f.Close()

			format, err := media.ParseWAVHeader(f)
			if err != nil {
				return err
			}
			if err := format.Validate(); err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			application, err := ctx.application(runCtx)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			provider := application.Provider
			session := transcription.NewSession(provider.NewAdapter(),
				transcription.WithProvider(provider.Name()),
				transcription.WithChunkSize(ctx.cfg.STT.ChunkSize),
				transcription.WithStopTimeout(ctx.cfg.STT.StopTimeout),
			)
			outcome, err := session.Transcribe(runCtx, f)
			if err != nil {
				return err
			}

			vtt := captions.Render(captions.Segment(outcome.Timestamps, ctx.cfg.Pipeline.MaxCueSeconds))

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				out = file
			}
			_, err = io.WriteString(out, vtt)
			return err
		},
	}

	cmd.Flags().StringVar(&wavPath, "wav", "", "Path to a 16 kHz mono 16-bit PCM WAV file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write captions to this file instead of stdout")
	_ = cmd.MarkFlagRequired("wav")
	return cmd
}
