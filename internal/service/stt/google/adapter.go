// Package google provides a Google Cloud Speech-to-Text adapter.
//
// Google closes streaming sessions after roughly five minutes of audio, so
// longer assets end in OnCanceled with an OUT_OF_RANGE detail.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/service/stt"
)

// ProviderName identifies this backend in configuration and metrics.
const ProviderName = "google"

// maxChunkBytes keeps each streaming request under the service's per-message limit.
const maxChunkBytes = 25 * 1024

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string
	SampleRateHz    int32
	InterimResults  bool
	AudioEncoding   string
	Model           string
	Punctuation     bool
	CredentialsFile string
}

// DefaultConfig returns the configuration for canonical 16 kHz LINEAR16 audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Punctuation:    true,
	}
}

// parseAudioEncoding converts string to Google's AudioEncoding enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// recognizer is the streaming surface of *speech.Client.
type recognizer interface {
	StreamingRecognize(ctx context.Context, opts ...gax.CallOption) (speechpb.Speech_StreamingRecognizeClient, error)
}

// Provider shares one speech client across sessions.
type Provider struct {
	client recognizer
	closer io.Closer
	cfg    Config
}

// NewProvider creates the speech client. Credentials come from
// cfg.CredentialsFile or GOOGLE_APPLICATION_CREDENTIALS.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	return &Provider{client: c, closer: c, cfg: cfg}, nil
}

// Name returns ProviderName.
func (p *Provider) Name() string { return ProviderName }

// NewAdapter returns an adapter for one recognition session.
func (p *Provider) NewAdapter() stt.Adapter {
	return newAdapter(p.client, p.cfg)
}

// Close releases the shared client.
func (p *Provider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client recognizer
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	cb     stt.Callback
	done   chan struct{}
}

func newAdapter(client recognizer, cfg Config) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Start opens the stream, sends the streaming config and starts the listener.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return errors.New("google stt: session already started")
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return fmt.Errorf("google stt: open stream: %w", err)
	}

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            a.cfg.SampleRateHz,
					AudioChannelCount:          1,
					LanguageCode:               a.cfg.LanguageCode,
					Model:                      a.cfg.Model,
					EnableWordTimeOffsets:      true,
					EnableAutomaticPunctuation: a.cfg.Punctuation,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("google stt: send config: %w", err)
	}

	a.stream = stream
	a.cancel = cancel
	a.cb = cb
	a.done = make(chan struct{})
	go a.listen(sctx)
	return nil
}

// SendAudio sends audio bytes, split into requests the service accepts.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	stream := a.currentStream()
	if stream == nil {
		return errors.New("google stt: session not started")
	}
	for len(audio) > 0 {
		n := min(len(audio), maxChunkBytes)
		chunk := make([]byte, n)
		copy(chunk, audio[:n])
		audio = audio[n:]

		err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: chunk,
			},
		})
		if errors.Is(err, io.EOF) {
			// The real status is only visible to Recv; the listener reports it.
			return stt.ErrStreamClosed
		}
		if err != nil {
			return fmt.Errorf("google stt: send audio: %w", err)
		}
	}
	return nil
}

// CloseSend half-closes the stream; results keep arriving until io.EOF.
func (a *Adapter) CloseSend() error {
	stream := a.currentStream()
	if stream == nil {
		return nil
	}
	return stream.CloseSend()
}

// Stop cancels the stream and waits for the listener to exit.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (a *Adapter) currentStream() speechpb.Speech_StreamingRecognizeClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

// listen receives responses from Google and invokes callbacks until the
// stream ends.
func (a *Adapter) listen(ctx context.Context) {
	defer close(a.done)

	for {
		resp, err := a.stream.Recv()
		if err == io.EOF {
			a.cb.OnSessionStopped()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				// Stop() or caller cancellation; the session owner already knows.
				return
			}
			st := status.Convert(err)
			log.Warn().Err(err).Str("code", st.Code().String()).Msg("Google STT stream failed")
			a.cb.OnCanceled(fmt.Sprintf("%s: %s", st.Code(), st.Message()))
			return
		}

		if e := resp.GetError(); e != nil && codes.Code(e.GetCode()) != codes.OK {
			a.cb.OnCanceled(fmt.Sprintf("%s: %s", codes.Code(e.GetCode()), e.GetMessage()))
			return
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			if r.GetIsFinal() {
				a.cb.OnFinal(toResult(alt))
			} else {
				a.cb.OnPartial(alt.GetTranscript())
			}
		}
	}
}

func toResult(alt *speechpb.SpeechRecognitionAlternative) models.RecognitionResult {
	res := models.RecognitionResult{
		Text:       alt.GetTranscript(),
		Confidence: float64(alt.GetConfidence()),
	}
	for _, w := range alt.GetWords() {
		start := w.GetStartTime().AsDuration()
		end := w.GetEndTime().AsDuration()
		if end < start {
			end = start
		}
		res.Words = append(res.Words, models.WordTimestamp{
			Text:          w.GetWord(),
			OffsetTicks:   stt.Ticks(start),
			DurationTicks: stt.Ticks(end - start),
		})
	}
	return res
}

var _ stt.Provider = (*Provider)(nil)
