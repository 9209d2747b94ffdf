package models

// PipelineEvent announces a newly uploaded media asset.
type PipelineEvent struct {
	SourceURL string `json:"sourceUrl"`
}

// EnrichmentCompleted is published after both the audio track and the
// caption file have been committed.
type EnrichmentCompleted struct {
	EventType  string `json:"eventType"`
	RunID      string `json:"runId"`
	SourceURL  string `json:"sourceUrl"`
	AudioURL   string `json:"audioUrl"`
	CaptionURL string `json:"captionUrl"`
	CueCount   int    `json:"cueCount"`
	WordCount  int    `json:"wordCount"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  int64  `json:"timestamp"`
}

// EnrichmentFailed is published when an event is dropped after a stage failure.
type EnrichmentFailed struct {
	EventType string `json:"eventType"`
	RunID     string `json:"runId"`
	SourceURL string `json:"sourceUrl"`
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

const (
	EventTypeCompleted = "media.enrichment.completed"
	EventTypeFailed    = "media.enrichment.failed"
)
