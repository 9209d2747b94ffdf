// Package mock provides a deterministic STT adapter for testing and local runs
// without cloud credentials. It emits progressive partials while audio arrives,
// one final result with evenly spaced word timestamps when audio ends, and then
// a session-stopped signal.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/service/stt"
)

// ProviderName identifies this backend in configuration and metrics.
const ProviderName = "mock"

// pcmBytesPerSecond is the byte rate of mono 16 kHz 16-bit PCM.
const pcmBytesPerSecond = 32000

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Welcome", "Welcome back", "Welcome back to the"},
		Final:      "Welcome back to the channel",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Today", "Today we are", "Today we are going to"},
		Final:      "Today we are going to build a bookshelf",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thanks", "Thanks for"},
		Final:      "Thanks for watching",
		Confidence: 0.98,
	},
}

// Config controls the simulated session.
type Config struct {
	// Utterance overrides the rotating DefaultUtterances.
	Utterance *SimulatedUtterance
	// CancelDetail, when set, ends the session with OnCanceled(CancelDetail)
	// instead of OnSessionStopped.
	CancelDetail string
	// StopErr is returned from Stop.
	StopErr error
}

// utteranceCounter tracks which utterance to use next (cycles through defaults)
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

func nextUtterance() SimulatedUtterance {
	counterMu.Lock()
	defer counterMu.Unlock()
	u := DefaultUtterances[utteranceCounter%len(DefaultUtterances)]
	utteranceCounter++
	return u
}

// Provider creates mock adapters.
type Provider struct {
	cfg Config
}

// NewProvider creates a mock provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Name returns ProviderName.
func (p *Provider) Name() string { return ProviderName }

// NewAdapter returns an adapter for one session.
func (p *Provider) NewAdapter() stt.Adapter { return New(p.cfg) }

// Adapter implements stt.Adapter with deterministic responses. Callbacks are
// delivered in order from a single worker goroutine.
type Adapter struct {
	cfg       Config
	utterance SimulatedUtterance

	mu           sync.Mutex
	cb           stt.Callback
	queue        chan func()
	stop         chan struct{}
	done         chan struct{}
	bytes        int64
	partialIndex int
	sendClosed   bool
	stopped      bool
}

// New creates a new mock STT adapter.
func New(cfg Config) *Adapter {
	u := nextUtterance()
	if cfg.Utterance != nil {
		u = *cfg.Utterance
	}
	return &Adapter{
		cfg:       cfg,
		utterance: u,
		queue:     make(chan func(), 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins a mock recognition session.
func (a *Adapter) Start(_ context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cb != nil {
		return errors.New("mock stt: session already started")
	}
	a.cb = cb
	go a.run()
	return nil
}

func (a *Adapter) run() {
	defer close(a.done)
	for {
		select {
		case fn, ok := <-a.queue:
			if !ok {
				return
			}
			fn()
		case <-a.stop:
			return
		}
	}
}

// enqueue must be called with a.mu held.
func (a *Adapter) enqueue(fn func()) {
	select {
	case a.queue <- fn:
	case <-a.stop:
	}
}

// SendAudio records audio and emits the next progressive partial, one per call.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb == nil {
		return errors.New("mock stt: session not started")
	}
	if a.sendClosed || a.stopped {
		return errors.New("mock stt: send after close")
	}

	a.bytes += int64(len(audio))
	if a.partialIndex < len(a.utterance.Partials) {
		text := a.utterance.Partials[a.partialIndex]
		a.partialIndex++
		cb := a.cb
		a.enqueue(func() { cb.OnPartial(text) })
	}
	return nil
}

// CloseSend flushes the final result (if any audio arrived) and ends the session.
func (a *Adapter) CloseSend() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb == nil || a.sendClosed || a.stopped {
		return nil
	}
	a.sendClosed = true

	cb := a.cb
	if a.bytes > 0 {
		result := a.result()
		a.enqueue(func() { cb.OnFinal(result) })
	}
	if detail := a.cfg.CancelDetail; detail != "" {
		a.enqueue(func() { cb.OnCanceled(detail) })
	} else {
		a.enqueue(cb.OnSessionStopped)
	}
	close(a.queue)
	return nil
}

// Stop ends the worker and returns the configured stop error.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return a.cfg.StopErr
	}
	a.stopped = true
	started := a.cb != nil
	close(a.stop)
	a.mu.Unlock()

	if started {
		<-a.done
	}
	return a.cfg.StopErr
}

// result spreads the final words evenly over the received audio duration.
func (a *Adapter) result() models.RecognitionResult {
	words := strings.Fields(a.utterance.Final)
	res := models.RecognitionResult{
		Text:       a.utterance.Final,
		Confidence: a.utterance.Confidence,
	}
	if len(words) == 0 {
		return res
	}

	total := a.bytes * models.TicksPerSecond / pcmBytesPerSecond
	slot := total / int64(len(words))
	for i, w := range words {
		res.Words = append(res.Words, models.WordTimestamp{
			Text:          w,
			OffsetTicks:   int64(i) * slot,
			DurationTicks: slot * 4 / 5,
		})
	}
	return res
}

var (
	_ stt.Adapter  = (*Adapter)(nil)
	_ stt.Provider = (*Provider)(nil)
)
