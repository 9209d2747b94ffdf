// Package captions groups recognized word timestamps into bounded-duration
// caption cues and renders them as a WEBVTT-headed caption file.
package captions

import (
	"fmt"
	"math"
	"strings"

	"media-enrichment-service/internal/models"
)

const (
	// DefaultMaxCueSeconds caps the accumulated spoken duration of one cue.
	DefaultMaxCueSeconds = 5.0
	// ContentType of rendered caption files.
	ContentType = "text/vtt"
	// Header is the first line of every caption file.
	Header = "WEBVTT"
)

// Cue is one caption entry.
type Cue struct {
	Index        int
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Segment groups words, in order, into cues whose accumulated spoken duration
// (the sum of word durations) does not exceed maxCueSeconds. A word that
// would push the current cue past the cap starts a new cue; a single word
// longer than the cap forms its own cue. maxCueSeconds <= 0 selects
// DefaultMaxCueSeconds.
func Segment(words []models.WordTimestamp, maxCueSeconds float64) []Cue {
	if maxCueSeconds <= 0 {
		maxCueSeconds = DefaultMaxCueSeconds
	}
	maxTicks := int64(math.Round(maxCueSeconds * models.TicksPerSecond))

	var (
		cues    []Cue
		current []models.WordTimestamp
		acc     int64
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		text := make([]string, len(current))
		for i, w := range current {
			text[i] = w.Text
		}
		last := current[len(current)-1]
		cues = append(cues, Cue{
			Index:        len(cues),
			StartSeconds: current[0].OffsetSeconds(),
			EndSeconds:   math.Max(last.EndSeconds(), current[0].OffsetSeconds()),
			Text:         strings.Join(text, " "),
		})
		current = current[:0:0]
		acc = 0
	}

	for _, w := range words {
		if len(current) > 0 && acc+w.DurationTicks > maxTicks {
			flush()
		}
		current = append(current, w)
		acc += w.DurationTicks
	}
	flush()
	return cues
}

// Render returns the caption file text: the header, a blank line, then one
// block per cue. Render(nil) returns "WEBVTT\n\n".
func Render(cues []Cue) string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteString("\n\n")
	for _, cue := range cues {
		sb.WriteString(fmt.Sprintf("%d\n", cue.Index+1))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", FormatTimestamp(cue.StartSeconds), FormatTimestamp(cue.EndSeconds)))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm, rounded to the nearest
// millisecond. Negative values clamp to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	msTotal := int64(math.Round(seconds * 1000))
	hours := msTotal / 3_600_000
	msTotal %= 3_600_000
	minutes := msTotal / 60_000
	msTotal %= 60_000
	secs := msTotal / 1_000
	millis := msTotal % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
