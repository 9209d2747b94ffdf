// Package extract converts arbitrary media into canonical recognizer audio
// (mono, 16 kHz, 16-bit PCM in a WAV container) by streaming it through ffmpeg.
package extract

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/service"
)

const (
	// DefaultBinary is looked up on PATH.
	DefaultBinary = "ffmpeg"

	stderrLimit = 8 * 1024
	waitDelay   = 2 * time.Second
)

// CommandFunc builds the process for one extraction.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Extractor runs one ffmpeg process per Extract call.
type Extractor struct {
	binary  string
	args    []string
	command CommandFunc
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithBinary overrides the ffmpeg executable.
func WithBinary(path string) Option {
	return func(e *Extractor) {
		if path != "" {
			e.binary = path
		}
	}
}

// WithCommand overrides process construction.
func WithCommand(fn CommandFunc) Option {
	return func(e *Extractor) { e.command = fn }
}

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// New creates an extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		binary:  DefaultBinary,
		args:    Args(),
		command: exec.CommandContext,
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("component", "extract").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Args returns the ffmpeg arguments reading media on stdin and writing
// canonical WAV on stdout.
func Args() []string {
	return ffmpeg.Input("pipe:0").
		Output("pipe:1", ffmpeg.KwArgs{
			"vn":           "",
			"ac":           "1",
			"ar":           "16000",
			"c:a":          "pcm_s16le",
			"map_metadata": "-1",
			"bitexact":     "",
			"f":            "wav",
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		GetArgs()
}

// Extract starts the transform with in as its input and returns its output.
// The output is an unbuffered pipe, so a slow reader stalls ffmpeg. A failed
// transform closes the output with *service.ExtractionError. Closing the
// returned reader before EOF kills the process.
func (e *Extractor) Extract(ctx context.Context, in io.Reader) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	pr, pw := io.Pipe()
	stderr := &limitedBuffer{limit: stderrLimit}

	cmd := e.command(ctx, e.binary, e.args...)
	cmd.Stdin = in
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		cancel()
		e.metrics.RecordExtraction(true)
		return nil, &service.ExtractionError{Err: err}
	}

	go func() {
		defer cancel()
		err := cmd.Wait()
		if err == nil {
			e.metrics.RecordExtraction(false)
			pw.Close()
			return
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		e.metrics.RecordExtraction(true)
		e.logger.Warn().
			Err(err).
			Str("stderr", stderr.String()).
			Msg("Audio extraction failed")
		pw.CloseWithError(&service.ExtractionError{Stderr: stderr.String(), Err: err})
	}()

	return &output{PipeReader: pr, cancel: cancel}, nil
}

type output struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (o *output) Close() error {
	o.cancel()
	return o.PipeReader.Close()
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
