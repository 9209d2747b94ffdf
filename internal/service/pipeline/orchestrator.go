// Package pipeline turns uploaded media into a mono WAV track and a WEBVTT
// caption file, one inbound event at a time.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"media-enrichment-service/internal/events"
	"media-enrichment-service/internal/media"
	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/observability/logging"
	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/schema"
	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/service/captions"
	"media-enrichment-service/internal/service/stt"
	"media-enrichment-service/internal/service/transcription"
	"media-enrichment-service/internal/service/transfer"
)

// Stage names recorded on *service.StageError and in metrics.
const (
	StageValidate      = "validate"
	StageFetch         = "fetch"
	StageExtract       = "extract"
	StageUploadAudio   = "upload_audio"
	StageDownloadAudio = "download_audio"
	StageTranscribe    = "transcribe"
	StageUploadCaption = "upload_caption"
)

const (
	audioContentType = "audio/wav"

	maxFetchBackoff = 30 * time.Second
	detachedTimeout = 15 * time.Second
)

// Extractor converts a media stream into canonical WAV.
type Extractor interface {
	Extract(ctx context.Context, in io.Reader) (io.ReadCloser, error)
}

// Publisher reports the outcome of each handled event.
type Publisher interface {
	PublishCompleted(ctx context.Context, event models.EnrichmentCompleted) error
	PublishFailed(ctx context.Context, event models.EnrichmentFailed) error
}

// Config tunes the orchestrator.
type Config struct {
	AudioContainer   string
	CaptionContainer string
	MaxConcurrency   int64
	MaxCueSeconds    float64
	ChunkSize        int
	StopTimeout      time.Duration
	// DeleteAudioOnFailure removes the committed audio asset when a later
	// stage fails. By default the audio asset is kept.
	DeleteAudioOnFailure bool
}

// DefaultConfig returns the destinations and limits used in production.
func DefaultConfig() Config {
	return Config{
		AudioContainer:   "audio",
		CaptionContainer: "videocaptions",
		MaxConcurrency:   4,
		MaxCueSeconds:    captions.DefaultMaxCueSeconds,
		ChunkSize:        transcription.DefaultChunkSize,
		StopTimeout:      transcription.DefaultStopTimeout,
	}
}

// Deps are the shared, long-lived clients injected into the orchestrator.
type Deps struct {
	Transfer  *transfer.Client
	Fetcher   Fetcher
	Extractor Extractor
	Provider  stt.Provider
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Result describes a successfully enriched asset.
type Result struct {
	RunID      string
	SourceURL  string
	AudioURL   string
	CaptionURL string
	Transcript string
	CueCount   int
	WordCount  int
	Duration   time.Duration
}

// Orchestrator runs the enrichment stages for each event.
type Orchestrator struct {
	cfg       Config
	validator *schema.Validator
	transfer  *transfer.Client
	fetcher   Fetcher
	extractor Extractor
	provider  stt.Provider
	publisher Publisher
	metrics   *metrics.Metrics
	newRunID  func() string
}

// New creates an orchestrator. Transfer, Extractor and Provider are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Transfer == nil || deps.Extractor == nil || deps.Provider == nil {
		return nil, errors.New("pipeline: transfer, extractor and provider are required")
	}

	def := DefaultConfig()
	if cfg.AudioContainer == "" {
		cfg.AudioContainer = def.AudioContainer
	}
	if cfg.CaptionContainer == "" {
		cfg.CaptionContainer = def.CaptionContainer
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxCueSeconds <= 0 {
		cfg.MaxCueSeconds = def.MaxCueSeconds
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}

	o := &Orchestrator{
		cfg:       cfg,
		validator: schema.New(),
		transfer:  deps.Transfer,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		provider:  deps.Provider,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		newRunID:  func() string { return uuid.NewString() },
	}
	if o.fetcher == nil {
		o.fetcher = NewHTTPFetcher(nil, deps.Transfer)
	}
	if o.metrics == nil {
		o.metrics = metrics.DefaultMetrics
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Handle runs every stage for one event, strictly in order. A failure is
// returned as *service.StageError naming the stage that failed. Malformed
// events fail the validate stage with *service.MalformedEventError.
func (o *Orchestrator) Handle(ctx context.Context, event models.PipelineEvent) (*Result, error) {
	return o.handle(ctx, o.newRunID(), event)
}

func (o *Orchestrator) handle(ctx context.Context, runID string, event models.PipelineEvent) (res *Result, err error) {
	start := time.Now()
	logger := logging.WithEvent(runID, event.SourceURL)

	o.metrics.RecordEventStart()
	defer func() {
		o.metrics.RecordEventEnd(service.Stage(err), service.Kind(err), time.Since(start).Seconds())
	}()

	var names Names
	if err := o.timed(StageValidate, func() error {
		if err := o.validator.Validate(event); err != nil {
			return err
		}
		var err error
		names, err = AssetNames(event.SourceURL)
		return err
	}); err != nil {
		return nil, err
	}

	logger.Info().
		Str("audioAsset", names.Audio).
		Str("captionAsset", names.Caption).
		Msg("Enrichment started")

	audioURL, err := o.extractAudio(ctx, event.SourceURL, names.Audio)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("audioUrl", audioURL).Msg("Audio track committed")

	res, err = o.caption(ctx, runID, names, logger)
	if err != nil {
		o.compensate(ctx, names.Audio, logger)
		return nil, err
	}

	res.RunID = runID
	res.SourceURL = event.SourceURL
	res.AudioURL = audioURL
	res.Duration = time.Since(start)

	logger.Info().
		Str("captionUrl", res.CaptionURL).
		Int("cues", res.CueCount).
		Int("words", res.WordCount).
		Dur("duration", res.Duration).
		Msg("Enrichment completed")

	return res, nil
}

// extractAudio streams source bytes through the extractor straight into a
// chunked upload of the audio asset.
func (o *Orchestrator) extractAudio(ctx context.Context, sourceURL, name string) (string, error) {
	var src io.ReadCloser
	if err := o.timed(StageFetch, func() (err error) {
		src, err = o.fetcher.Open(ctx, sourceURL)
		return err
	}); err != nil {
		return "", err
	}
	defer src.Close()

	wav, err := o.extractor.Extract(ctx, src)
	if err != nil {
		return "", &service.StageError{Stage: StageExtract, Err: err}
	}
	// Closing before EOF kills the transform when the upload fails first.
	defer wav.Close()

	// The transform runs inside the upload stream; upload_audio times both.
	start := time.Now()
	audioURL, err := o.transfer.Upload(ctx, o.cfg.AudioContainer, name, audioContentType, wav)
	o.metrics.RecordStage(StageUploadAudio, time.Since(start).Seconds())
	if err != nil {
		stage := StageUploadAudio
		if errors.Is(err, service.ErrExtraction) {
			stage = StageExtract
		}
		return "", &service.StageError{Stage: stage, Err: err}
	}
	return audioURL, nil
}

// caption reads the committed audio back, transcribes it and uploads the
// rendered captions.
func (o *Orchestrator) caption(ctx context.Context, runID string, names Names, logger zerolog.Logger) (*Result, error) {
	var (
		pcm   io.ReadCloser
		audio io.Reader
	)
	if err := o.timed(StageDownloadAudio, func() (err error) {
		pcm, err = o.transfer.Download(ctx, o.cfg.AudioContainer, names.Audio)
		if err != nil {
			return err
		}
		format, err := media.ParseWAVHeader(pcm)
		if err == nil {
			err = format.Validate()
		}
		if err != nil {
			pcm.Close()
			if errors.Is(err, service.ErrTransfer) {
				return err
			}
			return &service.ExtractionError{Err: err}
		}
		logger.Debug().
			Uint32("sampleRate", format.SampleRate).
			Uint16("channels", format.Channels).
			Uint16("bitsPerSample", format.BitsPerSample).
			Msg("Audio format verified")
		audio = pcm
		return nil
	}); err != nil {
		return nil, err
	}
	defer pcm.Close()

	var outcome *transcription.Outcome
	if err := o.timed(StageTranscribe, func() (err error) {
		session := transcription.NewSession(o.provider.NewAdapter(),
			transcription.WithChunkSize(o.cfg.ChunkSize),
			transcription.WithStopTimeout(o.cfg.StopTimeout),
			transcription.WithProvider(o.provider.Name()),
			transcription.WithLogger(logging.WithSession(runID, o.provider.Name())),
			transcription.WithMetrics(o.metrics),
		)
		outcome, err = session.Transcribe(ctx, audio)
		return err
	}); err != nil {
		return nil, err
	}

	cues := captions.Segment(outcome.Timestamps, o.cfg.MaxCueSeconds)
	o.metrics.RecordCaptionCues(len(cues))

	var captionURL string
	if err := o.timed(StageUploadCaption, func() (err error) {
		captionURL, err = o.transfer.Upload(ctx, o.cfg.CaptionContainer, names.Caption,
			captions.ContentType, strings.NewReader(captions.Render(cues)))
		return err
	}); err != nil {
		return nil, err
	}

	return &Result{
		CaptionURL: captionURL,
		Transcript: outcome.Text(),
		CueCount:   len(cues),
		WordCount:  len(outcome.Timestamps),
	}, nil
}

// compensate applies the failure policy to an already committed audio asset.
func (o *Orchestrator) compensate(ctx context.Context, name string, logger zerolog.Logger) {
	if !o.cfg.DeleteAudioOnFailure {
		logger.Info().Str("audioAsset", name).Msg("Keeping committed audio after failure")
		return
	}
	dctx, cancel := detached(ctx)
	defer cancel()
	if err := o.transfer.Delete(dctx, o.cfg.AudioContainer, name); err != nil {
		logger.Error().Err(err).Str("audioAsset", name).Msg("Failed to delete audio after failure")
		return
	}
	logger.Info().Str("audioAsset", name).Msg("Deleted audio after failure")
}

// timed runs fn, records its duration and tags a failure with stage.
func (o *Orchestrator) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.RecordStage(stage, time.Since(start).Seconds())
	if err != nil {
		return &service.StageError{Stage: stage, Err: err}
	}
	return nil
}

// Run fetches events from src and handles each in its own goroutine, with at
// most MaxConcurrency in flight. Every handled event is acknowledged, failed
// ones included, except failures caused by shutdown, which are left for
// redelivery. Run returns nil when src is exhausted or ctx is canceled, after
// in-flight events finish.
func (o *Orchestrator) Run(ctx context.Context, src events.Source) error {
	logger := logging.WithComponent("pipeline")
	sem := semaphore.NewWeighted(o.cfg.MaxConcurrency)
	var g errgroup.Group
	failures := 0

	logger.Info().Int64("maxConcurrency", o.cfg.MaxConcurrency).Msg("Pipeline started")

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		d, err := src.Fetch(ctx)
		if err != nil {
			sem.Release(1)
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}

			failures++
			o.metrics.RecordKafkaFetchError()
			backoff := min(time.Duration(failures)*time.Second, maxFetchBackoff)
			logger.Error().Err(err).Int("failures", failures).Dur("backoff", backoff).Msg("Fetch failed")

			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		failures = 0

		g.Go(func() error {
			defer sem.Release(1)
			o.process(ctx, d)
			return nil
		})
	}

	_ = g.Wait()
	logger.Info().Msg("Pipeline stopped")
	return nil
}

// process handles one delivery, reports its outcome and acknowledges it.
func (o *Orchestrator) process(ctx context.Context, d events.Delivery) {
	runID := o.newRunID()
	logger := logging.WithEvent(runID, d.Event.SourceURL)

	res, err := o.handle(ctx, runID, d.Event)

	pctx, cancel := detached(ctx)
	defer cancel()

	switch {
	case err == nil:
		if o.publisher != nil {
			if perr := o.publisher.PublishCompleted(pctx, completedEvent(res)); perr != nil {
				logger.Error().Err(perr).Msg("Failed to publish completion")
			}
		}
	case errors.Is(err, service.ErrMalformedEvent):
		logger.Warn().Err(err).Str("key", d.Key).Msg("Skipping malformed event")
	default:
		logger.Error().
			Err(err).
			Str("stage", service.Stage(err)).
			Str("kind", service.Kind(err)).
			Msg("Enrichment failed, dropping event")
		if ctx.Err() != nil {
			logger.Warn().Str("key", d.Key).Msg("Interrupted by shutdown, leaving event unacknowledged")
			return
		}
		if o.publisher != nil {
			if perr := o.publisher.PublishFailed(pctx, failedEvent(runID, d.Event, err)); perr != nil {
				logger.Error().Err(perr).Msg("Failed to publish failure")
			}
		}
	}

	if d.Ack != nil {
		if aerr := d.Ack(pctx); aerr != nil {
			logger.Error().Err(aerr).Str("key", d.Key).Msg("Failed to acknowledge event")
		}
	}
}

func completedEvent(res *Result) models.EnrichmentCompleted {
	return models.EnrichmentCompleted{
		EventType:  models.EventTypeCompleted,
		RunID:      res.RunID,
		SourceURL:  res.SourceURL,
		AudioURL:   res.AudioURL,
		CaptionURL: res.CaptionURL,
		CueCount:   res.CueCount,
		WordCount:  res.WordCount,
		DurationMs: res.Duration.Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	}
}

func failedEvent(runID string, event models.PipelineEvent, err error) models.EnrichmentFailed {
	return models.EnrichmentFailed{
		EventType: models.EventTypeFailed,
		RunID:     runID,
		SourceURL: event.SourceURL,
		Stage:     service.Stage(err),
		Kind:      service.Kind(err),
		Error:     err.Error(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// detached returns a context that survives cancellation of ctx, for
// reporting and cleanup that must finish during shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}
