// Package media inspects the canonical audio container produced by extraction.
package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Canonical recognizer input: 16-bit PCM, mono, 16 kHz.
const (
	FormatPCM          = 1
	CanonicalChannels  = 1
	CanonicalRate      = 16000
	CanonicalBitDepth  = 16
	canonicalByteRate  = CanonicalRate * CanonicalChannels * CanonicalBitDepth / 8
	maxSkippedChunkLen = 1 << 20
)

// ErrNotWAV is returned when the stream does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("media: not a RIFF/WAVE stream")

// WAVFormat describes a parsed WAV header.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	// DataSize is the declared length of the data chunk. Streaming writers
	// leave it as 0 or 0xFFFFFFFF because the length is unknown up front.
	DataSize uint32
}

// ByteRate returns the number of PCM bytes per second of audio.
func (f WAVFormat) ByteRate() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
}

// Validate checks that the format is the canonical recognizer input.
func (f WAVFormat) Validate() error {
	switch {
	case f.AudioFormat != FormatPCM:
		return fmt.Errorf("media: audio format %d is not PCM", f.AudioFormat)
	case f.Channels != CanonicalChannels:
		return fmt.Errorf("media: expected mono audio, got %d channels", f.Channels)
	case f.SampleRate != CanonicalRate:
		return fmt.Errorf("media: expected %d Hz, got %d Hz", CanonicalRate, f.SampleRate)
	case f.BitsPerSample != CanonicalBitDepth:
		return fmt.Errorf("media: expected %d-bit samples, got %d", CanonicalBitDepth, f.BitsPerSample)
	}
	return nil
}

// ParseWAVHeader reads r up to the start of the data chunk and returns the
// format. On success r is positioned at the first PCM byte.
func ParseWAVHeader(r io.Reader) (WAVFormat, error) {
	var f WAVFormat

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return f, fmt.Errorf("media: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return f, ErrNotWAV
	}

	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return f, fmt.Errorf("media: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return f, fmt.Errorf("media: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return f, fmt.Errorf("media: read fmt chunk: %w", err)
			}
			f.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			f.Channels = binary.LittleEndian.Uint16(body[2:4])
			f.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			f.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return f, errors.New("media: data chunk before fmt chunk")
			}
			f.DataSize = size
			return f, nil
		default:
			skip := int64(size) + int64(size%2)
			if skip > maxSkippedChunkLen {
				return f, fmt.Errorf("media: %q chunk too large to skip (%d bytes)", id, size)
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return f, fmt.Errorf("media: skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeHeader returns a minimal 44-byte header for the canonical format
// declaring dataSize bytes of PCM.
func EncodeHeader(dataSize uint32) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], FormatPCM)
	binary.LittleEndian.PutUint16(h[22:24], CanonicalChannels)
	binary.LittleEndian.PutUint32(h[24:28], CanonicalRate)
	binary.LittleEndian.PutUint32(h[28:32], canonicalByteRate)
	binary.LittleEndian.PutUint16(h[32:34], CanonicalChannels*CanonicalBitDepth/8)
	binary.LittleEndian.PutUint16(h[34:36], CanonicalBitDepth)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}
