package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestParseWAVHeader_Canonical(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	r := bytes.NewReader(append(EncodeHeader(uint32(len(pcm))), pcm...))

	f, err := ParseWAVHeader(r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("expected canonical format, got %v", err)
	}
	if f.DataSize != 4 {
		t.Errorf("expected data size 4, got %d", f.DataSize)
	}
	if f.ByteRate() != 32000 {
		t.Errorf("expected byte rate 32000, got %d", f.ByteRate())
	}

	rest, _ := io.ReadAll(r)
	if !bytes.Equal(rest, pcm) {
		t.Errorf("expected reader positioned at PCM, got %v", rest)
	}
}

func TestParseWAVHeader_SkipsListChunk(t *testing.T) {
	h := EncodeHeader(2)
	var buf bytes.Buffer
	buf.Write(h[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0}) // odd size is padded
	buf.Write(h[36:])
	buf.Write([]byte{9, 9})

	f, err := ParseWAVHeader(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.SampleRate != CanonicalRate {
		t.Errorf("unexpected sample rate %d", f.SampleRate)
	}
	if buf.Len() != 2 {
		t.Errorf("expected 2 PCM bytes remaining, got %d", buf.Len())
	}
}

func TestParseWAVHeader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"not riff", []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00\x00")},
		{"truncated", EncodeHeader(0)[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWAVHeader(bytes.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := ParseWAVHeader(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI "))); !errors.Is(err, ErrNotWAV) {
		t.Errorf("expected ErrNotWAV, got %v", err)
	}
}

func TestWAVFormat_Validate(t *testing.T) {
	good := WAVFormat{AudioFormat: FormatPCM, Channels: 1, SampleRate: 16000, BitsPerSample: 16}

	tests := []struct {
		name    string
		mutate  func(*WAVFormat)
		wantErr bool
	}{
		{"canonical", func(*WAVFormat) {}, false},
		{"stereo", func(f *WAVFormat) { f.Channels = 2 }, true},
		{"44.1kHz", func(f *WAVFormat) { f.SampleRate = 44100 }, true},
		{"8-bit", func(f *WAVFormat) { f.BitsPerSample = 8 }, true},
		{"float", func(f *WAVFormat) { f.AudioFormat = 3 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := good
			tt.mutate(&f)
			if err := f.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
