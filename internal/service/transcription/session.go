// Package transcription drives one continuous recognition session over a
// pushed audio stream and resolves it into a RecognitionOutcome.
//
// Every adapter callback and pump event is funneled into one channel that a
// single owner goroutine drains; only the owner mutates the outcome and the
// lifecycle.
package transcription

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/service/stt"
)

const (
	// DefaultChunkSize is one second of canonical PCM.
	DefaultChunkSize = 32000
	// DefaultStopTimeout bounds the wait for a terminal signal after CloseSend.
	DefaultStopTimeout = 2 * time.Minute
)

// Outcome is the result of a resolved session. It is not modified after
// Transcribe returns.
type Outcome struct {
	FinalResults []models.RecognitionResult
	Timestamps   []models.WordTimestamp
	Partials     []string
}

// Text joins the final results with spaces.
func (o *Outcome) Text() string {
	var b []byte
	for i, r := range o.FinalResults {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, r.Text...)
	}
	return string(b)
}

type signalKind int

const (
	sigPartial signalKind = iota
	sigFinal
	sigStopped
	sigCanceled
	sigEndOfAudio
	sigReadFailed
	sigSendFailed
	sigStreamClosed
)

type signal struct {
	kind   signalKind
	text   string
	result models.RecognitionResult
	err    error
}

// Session is a single-use recognition session.
type Session struct {
	adapter     stt.Adapter
	provider    string
	chunkSize   int
	stopTimeout time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	life    *Lifecycle
	signals chan signal
	done    chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithChunkSize sets the size of each SendAudio push.
func WithChunkSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithStopTimeout bounds the wait for a terminal signal after end of audio.
// Zero disables the bound.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Session) { s.stopTimeout = d }
}

// WithProvider names the backend in logs and metrics.
func WithProvider(name string) Option {
	return func(s *Session) { s.provider = name }
}

// WithLogger overrides the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates a session over a fresh adapter.
func NewSession(adapter stt.Adapter, opts ...Option) *Session {
	s := &Session{
		adapter:     adapter,
		provider:    "unknown",
		chunkSize:   DefaultChunkSize,
		stopTimeout: DefaultStopTimeout,
		metrics:     metrics.DefaultMetrics,
		logger:      log.With().Str("component", "transcription").Logger(),
		life:        NewLifecycle(),
		signals:     make(chan signal),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.life.State() }

// Transcribe pushes audio (raw PCM) to the recognizer and blocks until a
// terminal signal resolves the session. A canceled session, a failed stop
// confirmation, ctx cancellation or an audio read error fail with
// *service.RecognitionError.
func (s *Session) Transcribe(ctx context.Context, audio io.Reader) (*Outcome, error) {
	if err := s.life.Begin(); err != nil {
		return nil, err
	}
	s.metrics.RecordSessionStart()

	if err := s.adapter.Start(ctx, callback{s}); err != nil {
		return s.abort(&service.RecognitionError{Detail: "start failed", Err: err})
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go s.pump(pumpCtx, audio)

	return s.run(ctx)
}

// pump reads audio and pushes it to the adapter, then reports end of audio.
func (s *Session) pump(ctx context.Context, r io.Reader) {
	buf := make([]byte, s.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sendErr := s.adapter.SendAudio(ctx, buf[:n])
			if errors.Is(sendErr, stt.ErrStreamClosed) {
				s.deliver(signal{kind: sigStreamClosed})
				return
			}
			if sendErr != nil {
				s.deliver(signal{kind: sigSendFailed, err: sendErr})
				return
			}
		}
		if err == io.EOF {
			s.deliver(signal{kind: sigEndOfAudio})
			return
		}
		if err != nil {
			s.deliver(signal{kind: sigReadFailed, err: err})
			return
		}
	}
}

// deliver hands a signal to the owner unless the session already ended.
func (s *Session) deliver(sig signal) {
	select {
	case s.signals <- sig:
	case <-s.done:
	}
}

// run is the owner loop. It is the only code that mutates out and s.life.
func (s *Session) run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{}
	var timer *time.Timer
	var timeout <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	armTimeout := func() {
		if s.stopTimeout <= 0 || timer != nil {
			return
		}
		timer = time.NewTimer(s.stopTimeout)
		timeout = timer.C
	}

	for {
		select {
		case sig := <-s.signals:
			switch sig.kind {
			case sigPartial:
				out.Partials = append(out.Partials, sig.text)
				s.metrics.RecordPartialTranscript()

			case sigFinal:
				out.FinalResults = append(out.FinalResults, sig.result)
				out.Timestamps = append(out.Timestamps, sig.result.Words...)
				s.metrics.RecordFinalTranscript()

			case sigEndOfAudio:
				if err := s.life.BeginStopping(); err != nil {
					continue
				}
				if err := s.adapter.CloseSend(); err != nil {
					return s.abort(&service.RecognitionError{Detail: "close send failed", Err: err})
				}
				armTimeout()
				s.logger.Debug().Msg("End of audio, waiting for session stop")

			case sigStreamClosed:
				// The provider ended the stream early; its terminal signal
				// carries the reason.
				if err := s.life.BeginStopping(); err != nil {
					continue
				}
				armTimeout()
				s.logger.Debug().Msg("Stream closed by provider, waiting for terminal signal")

			case sigStopped:
				return s.finish(out, "")

			case sigCanceled:
				return s.finish(out, sig.text)

			case sigReadFailed:
				return s.abort(&service.RecognitionError{Detail: "audio stream failed", Err: sig.err})

			case sigSendFailed:
				return s.abort(&service.RecognitionError{Detail: "send audio failed", Err: sig.err})
			}

		case <-timeout:
			return s.abort(&service.RecognitionError{Detail: "timed out waiting for session stop"})

		case <-ctx.Done():
			return s.abort(&service.RecognitionError{Detail: "session interrupted", Err: ctx.Err()})
		}
	}
}

// finish handles a terminal signal from the service. Stop is called before
// the session resolves.
func (s *Session) finish(out *Outcome, detail string) (*Outcome, error) {
	close(s.done)
	stopErr := s.adapter.Stop()

	if detail != "" {
		s.life.Cancel()
		s.metrics.RecordSessionEnd(StateCanceled.String())
		s.metrics.RecordRecognitionError(s.provider, "canceled")
		s.logger.Warn().Str("detail", detail).Msg("Recognition session canceled")
		return nil, &service.RecognitionError{Detail: detail, Err: stopErr}
	}
	if stopErr != nil {
		s.life.Cancel()
		s.metrics.RecordSessionEnd(StateCanceled.String())
		s.metrics.RecordRecognitionError(s.provider, "stop")
		return nil, &service.RecognitionError{Detail: "stop confirmation failed", Err: stopErr}
	}

	_ = s.life.Resolve()
	s.metrics.RecordSessionEnd(StateResolved.String())
	s.logger.Info().
		Int("finalResults", len(out.FinalResults)).
		Int("words", len(out.Timestamps)).
		Int("partials", len(out.Partials)).
		Msg("Recognition session resolved")
	return out, nil
}

// abort ends the session without a service terminal signal.
func (s *Session) abort(rerr *service.RecognitionError) (*Outcome, error) {
	close(s.done)
	if stopErr := s.adapter.Stop(); stopErr != nil {
		rerr.Err = errors.Join(rerr.Err, stopErr)
	}
	s.life.Cancel()
	s.metrics.RecordSessionEnd(StateCanceled.String())
	s.metrics.RecordRecognitionError(s.provider, "aborted")
	s.logger.Warn().Err(rerr).Msg("Recognition session aborted")
	return nil, rerr
}

// callback adapts stt.Callback to owner signals.
type callback struct{ s *Session }

func (c callback) OnPartial(text string) {
	c.s.deliver(signal{kind: sigPartial, text: text})
}

func (c callback) OnFinal(result models.RecognitionResult) {
	c.s.deliver(signal{kind: sigFinal, result: result})
}

func (c callback) OnSessionStopped() {
	c.s.deliver(signal{kind: sigStopped})
}

func (c callback) OnCanceled(detail string) {
	c.s.deliver(signal{kind: sigCanceled, text: detail})
}
