// Package schema validates inbound pipeline events before any work starts.
package schema

import (
	"net/url"
	"path"
	"strings"

	"media-enrichment-service/internal/models"
	"media-enrichment-service/internal/service"
)

// Validator checks PipelineEvents.
type Validator struct {
	schemes map[string]bool
}

// New creates a validator accepting http and https source URLs.
func New() *Validator {
	return &Validator{schemes: map[string]bool{"http": true, "https": true}}
}

// Validate returns *service.MalformedEventError when the event cannot be
// processed: missing or unparsable source URL, unsupported scheme, or no
// asset path segment.
func (v *Validator) Validate(event models.PipelineEvent) error {
	raw := strings.TrimSpace(event.SourceURL)
	if raw == "" {
		return &service.MalformedEventError{Reason: "missing sourceUrl"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return &service.MalformedEventError{Reason: "unparsable sourceUrl: " + err.Error()}
	}
	if !v.schemes[strings.ToLower(u.Scheme)] {
		return &service.MalformedEventError{Reason: "unsupported scheme " + `"` + u.Scheme + `"`}
	}
	if u.Host == "" {
		return &service.MalformedEventError{Reason: "sourceUrl has no host"}
	}
	if base := path.Base(u.Path); base == "/" || base == "." || base == "" {
		return &service.MalformedEventError{Reason: "sourceUrl has no asset path"}
	}
	return nil
}
