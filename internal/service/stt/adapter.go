// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"
	"time"

	"media-enrichment-service/internal/models"
)

// ErrStreamClosed is returned by SendAudio when the provider has already ended
// the stream. The terminal signal still arrives through the Callback.
var ErrStreamClosed = errors.New("stt: stream closed by provider")

// Callback receives recognition signals from the STT provider. Callbacks may
// be invoked from provider goroutines; implementations must be safe for that.
type Callback interface {
	// OnPartial is called when an interim hypothesis is received.
	OnPartial(text string)

	// OnFinal is called when a finalized result is received.
	OnFinal(result models.RecognitionResult)

	// OnSessionStopped is called once when the provider has finished
	// delivering results after CloseSend.
	OnSessionStopped()

	// OnCanceled is called once when the provider aborts the session.
	// detail is empty when no error detail was supplied.
	OnCanceled(detail string)
}

// Adapter defines the interface for continuous recognition providers.
// Exactly one of OnSessionStopped or OnCanceled is delivered per session.
type Adapter interface {
	// Start begins a continuous recognition session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio pushes PCM bytes to the provider. It returns ErrStreamClosed
	// once the provider has ended the stream.
	SendAudio(ctx context.Context, audio []byte) error

	// CloseSend signals end of audio. The provider flushes its remaining
	// results and then reports OnSessionStopped.
	CloseSend() error

	// Stop tears the session down and releases resources. It is called once
	// after a terminal signal.
	Stop() error
}

// Provider creates one Adapter per recognition session over a shared client.
type Provider interface {
	Name() string
	NewAdapter() Adapter
}

// Ticks converts a duration to 100-nanosecond recognizer ticks.
func Ticks(d time.Duration) int64 {
	return int64(d / 100)
}
