package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"media-enrichment-service/internal/events"
	"media-enrichment-service/internal/media"
	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/service/stt"
	"media-enrichment-service/internal/service/stt/mock"
	"media-enrichment-service/internal/service/transfer"
	"media-enrichment-service/internal/storage/memory"
)

// twentySeconds is 20 s of canonical PCM. With an eight word utterance the
// mock spaces words 2.5 s apart with 2 s durations, so two words fit a cue.
var twentySeconds = bytes.Repeat([]byte{0x01, 0x00}, 20*16000)

var eightWords = &mock.SimulatedUtterance{
	Final:      "one two three four five six seven eight",
	Confidence: 0.9,
}

// wavExtractor stands in for ffmpeg: it treats its input as PCM and
// prefixes a canonical header.
type wavExtractor struct {
	fail error
}

func (e wavExtractor) Extract(_ context.Context, in io.Reader) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		data, err := io.ReadAll(in)
		if err == nil && e.fail != nil {
			err = e.fail
		}
		if err != nil {
			pw.CloseWithError(&service.ExtractionError{Stderr: "invalid data found", Err: err})
			return
		}
		if _, err := pw.Write(media.EncodeHeader(uint32(len(data)))); err != nil {
			return
		}
		if _, err := pw.Write(data); err != nil {
			return
		}
		pw.Close()
	}()
	return pr, nil
}

// fakePublisher records published outcomes.
type fakePublisher struct {
	mu        sync.Mutex
	completed []models.EnrichmentCompleted
	failed    []models.EnrichmentFailed
}

func (p *fakePublisher) PublishCompleted(_ context.Context, e models.EnrichmentCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *fakePublisher) PublishFailed(_ context.Context, e models.EnrichmentFailed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *fakePublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completed), len(p.failed)
}

type fixture struct {
	store     *memory.Store
	transfer  *transfer.Client
	publisher *fakePublisher
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/uploads/") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(twentySeconds)
	}))
	t.Cleanup(srv.Close)

	return &fixture{
		store:     store,
		transfer:  transfer.New(store, transfer.WithBlockSize(64*1024)),
		publisher: &fakePublisher{},
		server:    srv,
	}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config, ext Extractor, sttCfg mock.Config) *Orchestrator {
	t.Helper()
	if sttCfg.Utterance == nil {
		sttCfg.Utterance = eightWords
	}
	o, err := New(cfg, Deps{
		Transfer:  f.transfer,
		Fetcher:   NewHTTPFetcher(f.server.Client(), f.transfer),
		Extractor: ext,
		Provider:  mock.NewProvider(sttCfg),
		Publisher: f.publisher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestAssetNames(t *testing.T) {
	tests := []struct {
		url     string
		audio   string
		caption string
		wantErr bool
	}{
		{"https://acct.blob.core.windows.net/uploads/video-123.mp4", "video-123.wav", "caption_for-video-123.vtt", false},
		{"https://host/a/b/clip.final.mov?sig=abc", "clip.final.wav", "caption_for-clip.final.vtt", false},
		{"https://host/uploads/noext", "noext.wav", "caption_for-noext.vtt", false},
		{"https://host/uploads/trailing/", "trailing.wav", "caption_for-trailing.vtt", false},
		{"", "", "", true},
		{"https://host", "", "", true},
		{"https://host/uploads/.mp4", "", "", true},
		{"https://host/%zz", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			names, err := AssetNames(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AssetNames(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, service.ErrMalformedEvent) {
					t.Errorf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if names.Audio != tt.audio || names.Caption != tt.caption {
				t.Errorf("AssetNames(%q) = %+v, want %s / %s", tt.url, names, tt.audio, tt.caption)
			}
		})
	}
}

func TestAssetNames_Stable(t *testing.T) {
	a, _ := AssetNames("https://host/uploads/clip.mp4")
	b, _ := AssetNames("https://host/uploads/clip.mp4")
	if a != b {
		t.Errorf("expected identical names, got %+v and %+v", a, b)
	}
}

func TestHandle_Success(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})

	res, err := o.Handle(context.Background(), models.PipelineEvent{SourceURL: f.server.URL + "/uploads/clip-42.mp4"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if res.RunID == "" {
		t.Error("expected a run id")
	}
	if res.AudioURL != "https://memory.local/audio/clip-42.wav" {
		t.Errorf("unexpected audio url %s", res.AudioURL)
	}
	if res.CaptionURL != "https://memory.local/videocaptions/caption_for-clip-42.vtt" {
		t.Errorf("unexpected caption url %s", res.CaptionURL)
	}
	if res.WordCount != 8 || res.CueCount != 4 {
		t.Errorf("expected 8 words in 4 cues, got %d words %d cues", res.WordCount, res.CueCount)
	}
	if res.Transcript != eightWords.Final {
		t.Errorf("unexpected transcript %q", res.Transcript)
	}

	audio, ct, ok := f.store.Object("audio", "clip-42.wav")
	if !ok || ct != "audio/wav" {
		t.Fatalf("expected committed audio/wav asset, ok=%v ct=%s", ok, ct)
	}
	if len(audio) != 44+len(twentySeconds) {
		t.Errorf("expected header plus pcm, got %d bytes", len(audio))
	}

	vtt, ct, ok := f.store.Object("videocaptions", "caption_for-clip-42.vtt")
	if !ok || ct != "text/vtt" {
		t.Fatalf("expected committed text/vtt asset, ok=%v ct=%s", ok, ct)
	}
	want := "WEBVTT\n\n1\n00:00:00,000 --> 00:00:04,500\none two\n\n"
	if !strings.HasPrefix(string(vtt), want) {
		t.Errorf("unexpected caption file:\n%s", vtt)
	}
}

func stageSamples(t *testing.T, stage string) uint64 {
	t.Helper()
	var m dto.Metric
	h := metrics.DefaultMetrics.StageDuration.WithLabelValues(stage).(prometheus.Histogram)
	if err := h.Write(&m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestHandle_StreamedExtractionTimedWithUpload(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})
	extract, upload := stageSamples(t, StageExtract), stageSamples(t, StageUploadAudio)

	if _, err := o.Handle(context.Background(), models.PipelineEvent{SourceURL: f.server.URL + "/uploads/timed.mp4"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := stageSamples(t, StageExtract); got != extract {
		t.Errorf("expected no separate extract observation, got %d new", got-extract)
	}
	if got := stageSamples(t, StageUploadAudio); got != upload+1 {
		t.Errorf("expected one upload_audio observation, got %d new", got-upload)
	}
}

func TestHandle_SourceInOwnStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srcURL, err := f.transfer.Upload(ctx, "uploads", "private.mp4", "video/mp4", bytes.NewReader(twentySeconds))
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})
	res, err := o.Handle(ctx, models.PipelineEvent{SourceURL: srcURL})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.AudioURL != "https://memory.local/audio/private.wav" {
		t.Errorf("unexpected audio url %s", res.AudioURL)
	}
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		ext    Extractor
		stt    mock.Config
		stage  string
		kind   string
		audio  bool
		delete bool
	}{
		{"malformed", "", wavExtractor{}, mock.Config{}, StageValidate, "malformed", false, false},
		{"not found", "/missing/clip.mp4", wavExtractor{}, mock.Config{}, StageFetch, "transfer", false, false},
		{"extraction", "/uploads/clip.mp4", wavExtractor{fail: errors.New("exit status 1")}, mock.Config{}, StageExtract, "extraction", false, false},
		{"recognition keeps audio", "/uploads/clip.mp4", wavExtractor{}, mock.Config{CancelDetail: "quota exceeded"}, StageTranscribe, "recognition", true, false},
		{"recognition deletes audio", "/uploads/clip.mp4", wavExtractor{}, mock.Config{CancelDetail: "quota exceeded"}, StageTranscribe, "recognition", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.orchestrator(t, Config{DeleteAudioOnFailure: tt.delete}, tt.ext, tt.stt)

			url := tt.url
			if url != "" {
				url = f.server.URL + url
			}
			res, err := o.Handle(context.Background(), models.PipelineEvent{SourceURL: url})
			if err == nil {
				t.Fatalf("expected failure, got %+v", res)
			}
			if got := service.Stage(err); got != tt.stage {
				t.Errorf("expected stage %s, got %s (%v)", tt.stage, got, err)
			}
			if got := service.Kind(err); got != tt.kind {
				t.Errorf("expected kind %s, got %s (%v)", tt.kind, got, err)
			}
			if _, _, ok := f.store.Object("audio", "clip.wav"); ok != tt.audio {
				t.Errorf("expected audio present=%v, got %v", tt.audio, ok)
			}
			if _, _, ok := f.store.Object("videocaptions", "caption_for-clip.vtt"); ok {
				t.Error("expected no caption asset after failure")
			}
		})
	}
}

func TestHandle_NotWAV(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, passthrough{}, mock.Config{})

	_, err := o.Handle(context.Background(), models.PipelineEvent{SourceURL: f.server.URL + "/uploads/clip.mp4"})
	if service.Stage(err) != StageDownloadAudio || !errors.Is(err, service.ErrExtraction) {
		t.Errorf("expected extraction error at download_audio, got %v", err)
	}
	if !errors.Is(err, media.ErrNotWAV) {
		t.Errorf("expected ErrNotWAV cause, got %v", err)
	}
}

// passthrough emits its input unchanged.
type passthrough struct{}

func (passthrough) Extract(_ context.Context, in io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(in), nil
}

func TestRun_StaticSource(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{MaxConcurrency: 2}, wavExtractor{}, mock.Config{})

	src := events.NewStaticSource(
		models.PipelineEvent{SourceURL: f.server.URL + "/uploads/a.mp4"},
		models.PipelineEvent{SourceURL: ""},
		models.PipelineEvent{SourceURL: f.server.URL + "/uploads/b.mp4"},
		models.PipelineEvent{SourceURL: f.server.URL + "/elsewhere/c.mp4"},
	)

	if err := o.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	completed, failed := f.publisher.counts()
	if completed != 2 || failed != 1 {
		t.Errorf("expected 2 completed and 1 failed, got %d and %d", completed, failed)
	}
	if acked := src.Acked(); len(acked) != 4 {
		t.Errorf("expected every event acknowledged, got %v", acked)
	}

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if fe := f.publisher.failed[0]; fe.Stage != StageFetch || fe.Kind != "transfer" || fe.EventType != models.EventTypeFailed {
		t.Errorf("unexpected failure event %+v", fe)
	}
	for _, ce := range f.publisher.completed {
		if ce.EventType != models.EventTypeCompleted || ce.CueCount != 4 || ce.RunID == "" {
			t.Errorf("unexpected completion event %+v", ce)
		}
	}
}

// countingFetcher tracks how many sources are open at once.
type countingFetcher struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (c *countingFetcher) Open(context.Context, string) (io.ReadCloser, error) {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return &countedBody{Reader: bytes.NewReader(twentySeconds[:32000]), c: c}, nil
}

type countedBody struct {
	io.Reader
	c    *countingFetcher
	once sync.Once
}

func (b *countedBody) Close() error {
	b.once.Do(func() { b.c.active.Add(-1) })
	return nil
}

func TestRun_BoundsConcurrency(t *testing.T) {
	f := newFixture(t)
	fetcher := &countingFetcher{}
	o, err := New(Config{MaxConcurrency: 2}, Deps{
		Transfer:  f.transfer,
		Fetcher:   fetcher,
		Extractor: wavExtractor{},
		Provider:  mock.NewProvider(mock.Config{Utterance: eightWords}),
		Publisher: f.publisher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var evs []models.PipelineEvent
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		evs = append(evs, models.PipelineEvent{SourceURL: "https://media.example.com/uploads/" + name + ".mp4"})
	}
	if err := o.Run(context.Background(), events.NewStaticSource(evs...)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak := fetcher.peak.Load(); peak < 1 || peak > 2 {
		t.Errorf("expected at most 2 sources open at once, peak was %d", peak)
	}
	if completed, _ := f.publisher.counts(); completed != len(evs) {
		t.Errorf("expected %d completions, got %d", len(evs), completed)
	}
}

// failingSource always fails to fetch.
type failingSource struct{ calls atomic.Int32 }

func (s *failingSource) Fetch(context.Context) (events.Delivery, error) {
	s.calls.Add(1)
	return events.Delivery{}, errors.New("broker unavailable")
}

func (s *failingSource) Close() error { return nil }

func TestRun_FetchErrorsBackOffUntilCanceled(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	src := &failingSource{}
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, src) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if calls := src.calls.Load(); calls != 1 {
		t.Errorf("expected one fetch before the first backoff elapsed, got %d", calls)
	}
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := events.NewStaticSource(models.PipelineEvent{SourceURL: f.server.URL + "/uploads/a.mp4"})
	if err := o.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if acked := src.Acked(); len(acked) != 0 {
		t.Errorf("expected nothing acknowledged, got %v", acked)
	}
}

// silentProvider hands out adapters that accept audio but never report a
// terminal signal.
type silentProvider struct {
	started chan struct{}
	once    sync.Once
	stops   atomic.Int32
}

func (p *silentProvider) Name() string            { return "silent" }
func (p *silentProvider) NewAdapter() stt.Adapter { return silentAdapter{p} }

type silentAdapter struct{ p *silentProvider }

func (a silentAdapter) Start(context.Context, stt.Callback) error {
	a.p.once.Do(func() { close(a.p.started) })
	return nil
}
func (a silentAdapter) SendAudio(context.Context, []byte) error { return nil }
func (a silentAdapter) CloseSend() error                        { return nil }
func (a silentAdapter) Stop() error {
	a.p.stops.Add(1)
	return nil
}

func TestRun_ShutdownLeavesInFlightEventUnacked(t *testing.T) {
	f := newFixture(t)
	provider := &silentProvider{started: make(chan struct{})}
	o, err := New(Config{}, Deps{
		Transfer:  f.transfer,
		Fetcher:   NewHTTPFetcher(f.server.Client(), f.transfer),
		Extractor: wavExtractor{},
		Provider:  provider,
		Publisher: f.publisher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := events.NewStaticSource(models.PipelineEvent{SourceURL: f.server.URL + "/uploads/a.mp4"})
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, src) }()

	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("recognition session never started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not wait out the in-flight event")
	}

	if acked := src.Acked(); len(acked) != 0 {
		t.Errorf("expected interrupted event left unacknowledged, got %v", acked)
	}
	if completed, failed := f.publisher.counts(); completed != 0 || failed != 0 {
		t.Errorf("expected nothing published, got %d completed and %d failed", completed, failed)
	}
	if n := provider.stops.Load(); n != 1 {
		t.Errorf("expected the session stopped once, got %d", n)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, Config{}, wavExtractor{}, mock.Config{})

	cfg := o.Config()
	if cfg.AudioContainer != "audio" || cfg.CaptionContainer != "videocaptions" {
		t.Errorf("unexpected destinations %s %s", cfg.AudioContainer, cfg.CaptionContainer)
	}
	if cfg.MaxConcurrency != 4 || cfg.MaxCueSeconds != 5 {
		t.Errorf("unexpected limits %+v", cfg)
	}
}
