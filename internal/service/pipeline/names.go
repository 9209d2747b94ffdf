package pipeline

import (
	"net/url"
	"path"
	"strings"

	"media-enrichment-service/internal/service"
)

const (
	audioExt      = ".wav"
	captionExt    = ".vtt"
	captionPrefix = "caption_for-"
)

// Names are the destination asset names derived from one source URL.
type Names struct {
	Audio   string
	Caption string
}

// AssetNames derives the audio and caption asset names from the last path
// segment of sourceURL. The segment's extension is replaced with .wav; the
// caption name is "caption_for-" plus the audio name with .vtt in place of
// .wav. The same URL always yields the same names.
func AssetNames(sourceURL string) (Names, error) {
	raw := strings.TrimSpace(sourceURL)
	if raw == "" {
		return Names{}, &service.MalformedEventError{Reason: "missing sourceUrl"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Names{}, &service.MalformedEventError{Reason: "unparsable sourceUrl: " + err.Error()}
	}

	base := path.Base(strings.TrimRight(u.Path, "/"))
	if base == "/" || base == "." || base == "" {
		return Names{}, &service.MalformedEventError{Reason: "sourceUrl has no asset path"}
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		return Names{}, &service.MalformedEventError{Reason: "asset name " + `"` + base + `"` + " has no stem"}
	}

	audio := stem + audioExt
	return Names{
		Audio:   audio,
		Caption: captionPrefix + strings.TrimSuffix(audio, audioExt) + captionExt,
	}, nil
}
