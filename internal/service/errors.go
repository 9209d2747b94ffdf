// Package service holds the error taxonomy shared by the enrichment stages.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers. Every typed stage error matches exactly one of these
// through errors.Is so callers can classify failures without type switches.
var (
	ErrTransfer       = errors.New("transfer error")
	ErrExtraction     = errors.New("extraction error")
	ErrRecognition    = errors.New("recognition error")
	ErrMalformedEvent = errors.New("malformed event")
)

// TransferError reports a failed stage, commit, download or delete call
// against the object store.
type TransferError struct {
	Op      string // stage, commit, download, delete, fetch
	Name    string
	BlockID string
	Err     error
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString("transfer ")
	b.WriteString(e.Op)
	if e.Name != "" {
		b.WriteString(" ")
		b.WriteString(e.Name)
	}
	if e.BlockID != "" {
		b.WriteString(" block ")
		b.WriteString(e.BlockID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransferError) Unwrap() []error { return causes(ErrTransfer, e.Err) }

// ExtractionError reports a failure of the external audio transform.
type ExtractionError struct {
	Stderr string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := "audio extraction failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExtractionError) Unwrap() []error { return causes(ErrExtraction, e.Err) }

// RecognitionError reports a recognition session that ended in the Canceled
// state. Detail carries the service's error detail; Err carries any chained
// cause such as a failed stop confirmation.
type RecognitionError struct {
	Detail string
	Err    error
}

func (e *RecognitionError) Error() string {
	msg := "recognition failed"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecognitionError) Unwrap() []error { return causes(ErrRecognition, e.Err) }

// MalformedEventError reports an inbound event that cannot be processed.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: %s", e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// StageError tags an error with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func causes(marker, err error) []error {
	if err == nil {
		return []error{marker}
	}
	return []error{marker, err}
}

// Kind returns a short, metric-friendly classification of err.
// Extraction and recognition are checked before transfer because a transfer
// of a failing transform stream surfaces both markers.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrRecognition):
		return "recognition"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	default:
		return "unknown"
	}
}

// Stage returns the stage name recorded on err, or "" when none was recorded.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
