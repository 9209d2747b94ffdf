package transcription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/service"
	"media-enrichment-service/internal/service/stt"
	"media-enrichment-service/internal/service/stt/mock"
)

// scriptedAdapter lets tests decide which signals the service emits.
type scriptedAdapter struct {
	mu        sync.Mutex
	cb        stt.Callback
	sent      int
	stopCalls int
	onClose   func(cb stt.Callback)
	onSend    func(cb stt.Callback) error
	startErr  error
	stopErr   error
}

func (a *scriptedAdapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return a.startErr
}

func (a *scriptedAdapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	a.sent += len(audio)
	cb, fn := a.cb, a.onSend
	a.mu.Unlock()
	if fn != nil {
		return fn(cb)
	}
	return nil
}

func (a *scriptedAdapter) CloseSend() error {
	a.mu.Lock()
	cb, fn := a.cb, a.onClose
	a.mu.Unlock()
	if fn != nil {
		go fn(cb)
	}
	return nil
}

func (a *scriptedAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCalls++
	return a.stopErr
}

func (a *scriptedAdapter) stops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCalls
}

func transcribe(t *testing.T, s *Session, audio io.Reader) (*Outcome, error) {
	t.Helper()
	type res struct {
		out *Outcome
		err error
	}
	ch := make(chan res, 1)
	go func() {
		out, err := s.Transcribe(context.Background(), audio)
		ch <- res{out, err}
	}()
	select {
	case r := <-ch:
		return r.out, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("Transcribe did not resolve")
		return nil, nil
	}
}

func TestSession_EmptyInputResolves(t *testing.T) {
	adapter := mock.New(mock.Config{})
	s := NewSession(adapter)

	out, err := transcribe(t, s, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.FinalResults) != 0 || len(out.Timestamps) != 0 {
		t.Errorf("expected empty outcome, got %+v", out)
	}
	if s.State() != StateResolved {
		t.Errorf("expected RESOLVED, got %s", s.State())
	}
}

func TestSession_CollectsResultsInOrder(t *testing.T) {
	utt := &mock.SimulatedUtterance{
		Partials:   []string{"the", "the quick"},
		Final:      "the quick brown fox",
		Confidence: 0.9,
	}
	s := NewSession(mock.New(mock.Config{Utterance: utt}), WithChunkSize(1000))

	// One-byte reads produce many small pushes.
	out, err := transcribe(t, s, iotest.OneByteReader(bytes.NewReader(make([]byte, 3200))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Partials) != 2 || out.Partials[1] != "the quick" {
		t.Errorf("unexpected partials %v", out.Partials)
	}
	if len(out.FinalResults) != 1 || out.Text() != "the quick brown fox" {
		t.Errorf("unexpected finals %+v", out.FinalResults)
	}
	if len(out.Timestamps) != 4 || out.Timestamps[3].Text != "fox" {
		t.Errorf("unexpected timestamps %+v", out.Timestamps)
	}
}

func TestSession_CancelWithDetailFails(t *testing.T) {
	s := NewSession(mock.New(mock.Config{CancelDetail: "AuthenticationFailure: invalid subscription key"}))

	_, err := transcribe(t, s, strings.NewReader("pcm"))
	var re *service.RecognitionError
	if !errors.As(err, &re) {
		t.Fatalf("expected RecognitionError, got %v", err)
	}
	if re.Detail != "AuthenticationFailure: invalid subscription key" {
		t.Errorf("expected service detail, got %q", re.Detail)
	}
	if s.State() != StateCanceled {
		t.Errorf("expected CANCELED, got %s", s.State())
	}
}

func TestSession_CancelWithoutDetailResolves(t *testing.T) {
	adapter := &scriptedAdapter{onClose: func(cb stt.Callback) {
		cb.OnFinal(models.RecognitionResult{Text: "partial run", Words: []models.WordTimestamp{{Text: "partial"}, {Text: "run"}}})
		cb.OnCanceled("")
	}}
	s := NewSession(adapter)

	out, err := transcribe(t, s, strings.NewReader("pcm"))
	if err != nil {
		t.Fatalf("expected resolution, got %v", err)
	}
	if len(out.Timestamps) != 2 {
		t.Errorf("expected accumulated timestamps, got %d", len(out.Timestamps))
	}
	if adapter.stops() != 1 {
		t.Errorf("expected exactly one Stop call, got %d", adapter.stops())
	}
}

func TestSession_StopErrorChainsIntoRecognitionError(t *testing.T) {
	stopErr := errors.New("connection reset during close")
	s := NewSession(mock.New(mock.Config{CancelDetail: "service unavailable", StopErr: stopErr}))

	_, err := transcribe(t, s, strings.NewReader("pcm"))
	var re *service.RecognitionError
	if !errors.As(err, &re) || re.Detail != "service unavailable" {
		t.Fatalf("expected RecognitionError with detail, got %v", err)
	}
	if !errors.Is(err, stopErr) {
		t.Error("expected stop error to be chained")
	}
}

func TestSession_StopErrorOnCleanStopFails(t *testing.T) {
	stopErr := errors.New("close failed")
	s := NewSession(mock.New(mock.Config{StopErr: stopErr}))

	_, err := transcribe(t, s, strings.NewReader("pcm"))
	if !errors.Is(err, service.ErrRecognition) || !errors.Is(err, stopErr) {
		t.Errorf("expected RecognitionError chaining stop error, got %v", err)
	}
}

func TestSession_ContextCancelDrivesCanceled(t *testing.T) {
	adapter := &scriptedAdapter{} // never emits a terminal signal
	s := NewSession(adapter, WithStopTimeout(0))

	pr, pw := io.Pipe() // audio never ends
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Transcribe(ctx, pr)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, service.ErrRecognition) {
			t.Errorf("expected canceled RecognitionError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}
	if s.State() != StateCanceled {
		t.Errorf("expected CANCELED, got %s", s.State())
	}
	if adapter.stops() != 1 {
		t.Errorf("expected exactly one Stop call, got %d", adapter.stops())
	}
}

func TestSession_StreamClosedWaitsForCancelDetail(t *testing.T) {
	adapter := &scriptedAdapter{
		onSend: func(cb stt.Callback) error {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cb.OnCanceled("ResourceExhausted: quota exceeded")
			}()
			return stt.ErrStreamClosed
		},
	}
	s := NewSession(adapter, WithChunkSize(4), WithStopTimeout(2*time.Second))

	_, err := transcribe(t, s, strings.NewReader("pcm audio that keeps coming"))
	var re *service.RecognitionError
	if !errors.As(err, &re) || re.Detail != "ResourceExhausted: quota exceeded" {
		t.Fatalf("expected service cancel detail, got %v", err)
	}
	if s.State() != StateCanceled {
		t.Errorf("expected CANCELED, got %s", s.State())
	}
	if adapter.stops() != 1 {
		t.Errorf("expected exactly one Stop call, got %d", adapter.stops())
	}
}

func TestSession_StreamClosedWithoutTerminalTimesOut(t *testing.T) {
	adapter := &scriptedAdapter{
		onSend: func(stt.Callback) error { return stt.ErrStreamClosed },
	}
	s := NewSession(adapter, WithStopTimeout(50*time.Millisecond))

	_, err := transcribe(t, s, strings.NewReader("pcm"))
	var re *service.RecognitionError
	if !errors.As(err, &re) || !strings.Contains(re.Detail, "timed out") {
		t.Errorf("expected timeout RecognitionError, got %v", err)
	}
}

func TestSession_StopTimeout(t *testing.T) {
	adapter := &scriptedAdapter{}
	s := NewSession(adapter, WithStopTimeout(50*time.Millisecond))

	_, err := transcribe(t, s, strings.NewReader("pcm"))
	var re *service.RecognitionError
	if !errors.As(err, &re) || !strings.Contains(re.Detail, "timed out") {
		t.Errorf("expected timeout RecognitionError, got %v", err)
	}
}

func TestSession_ReadErrorFails(t *testing.T) {
	boom := errors.New("download interrupted")
	s := NewSession(&scriptedAdapter{})

	_, err := transcribe(t, s, io.MultiReader(strings.NewReader("pcm"), iotest.ErrReader(boom)))
	if !errors.Is(err, boom) || !errors.Is(err, service.ErrRecognition) {
		t.Errorf("expected RecognitionError wrapping read error, got %v", err)
	}
}

func TestSession_StartFailure(t *testing.T) {
	startErr := errors.New("no credentials")
	adapter := &scriptedAdapter{startErr: startErr}
	s := NewSession(adapter)

	_, err := transcribe(t, s, strings.NewReader(""))
	if !errors.Is(err, startErr) {
		t.Errorf("expected start error, got %v", err)
	}
	if adapter.stops() != 1 {
		t.Errorf("expected Stop after failed start, got %d", adapter.stops())
	}
}

func TestSession_SingleUse(t *testing.T) {
	s := NewSession(mock.New(mock.Config{}))
	if _, err := transcribe(t, s, strings.NewReader("")); err != nil {
		t.Fatalf("first transcribe: %v", err)
	}
	if _, err := s.Transcribe(context.Background(), strings.NewReader("")); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}
