// Package models defines the data structures shared between pipeline stages
// and the event payloads published on the message bus.
package models

// TicksPerSecond is the number of 100 ns recognition ticks in one second.
const TicksPerSecond = 10_000_000

// WordTimestamp is one recognized word with its position in the audio stream.
// Offsets and durations are expressed in 100 ns ticks.
type WordTimestamp struct {
	Text          string `json:"text"`
	OffsetTicks   int64  `json:"offsetTicks"`
	DurationTicks int64  `json:"durationTicks"`
}

// OffsetSeconds returns the word start in seconds.
func (w WordTimestamp) OffsetSeconds() float64 {
	return float64(w.OffsetTicks) / TicksPerSecond
}

// EndSeconds returns the word end (offset + duration) in seconds.
func (w WordTimestamp) EndSeconds() float64 {
	return float64(w.OffsetTicks+w.DurationTicks) / TicksPerSecond
}

// RecognitionResult is a finalized recognition result.
type RecognitionResult struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Words      []WordTimestamp `json:"words,omitempty"`
}
