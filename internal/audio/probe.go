package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"
)

// Format is the container format of an audio payload
type Format string

const (
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatWAV     Format = "wav"
	FormatUnknown Format = "unknown"
)

// ErrUnknownFormat is returned for payloads that are not a recognised audio stream,
// typically an error page served instead of the file.
var ErrUnknownFormat = errors.New("unrecognised audio payload")

// Info describes a probed payload
type Info struct {
	Format   Format
	Duration time.Duration
	Frames   int // decoded MP3 frames, zero for other formats
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Detect identifies the container format of data.
func Detect(data []byte) Format {
	if _, fileType, err := tag.Identify(bytes.NewReader(data)); err == nil {
		switch fileType {
		case tag.MP3:
			return FormatMP3
		case tag.FLAC:
			return FormatFLAC
		}
	}

	// Untagged streams are not identified by tag
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// Probe detects the format of data and measures its duration.
func Probe(data []byte) (Info, error) {
	info := Info{Format: Detect(data)}

	var err error
	switch info.Format {
	case FormatMP3:
		info.Duration, info.Frames, err = durationMP3(data)
	case FormatFLAC:
		info.Duration, err = durationFLAC(data)
	case FormatWAV:
		info.Duration, err = durationWAV(data)
	default:
		return info, ErrUnknownFormat
	}
	if err != nil {
		return info, fmt.Errorf("probe %s: %w", info.Format, err)
	}
	return info, nil
}

// MP3 duration by summing decoded frame durations
func durationMP3(data []byte) (time.Duration, int, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if frames == 0 {
				return 0, 0, err
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	if frames == 0 {
		return 0, 0, errors.New("no mpeg frames found")
	}
	return total, frames, nil
}

// FLAC duration via STREAMINFO metadata block
func durationFLAC(data []byte) (time.Duration, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	secs := float64(si.NSamples) / float64(si.SampleRate)
	return time.Duration(secs * float64(time.Second)), nil
}

// WAV duration from the RIFF header
func durationWAV(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	return dec.Duration()
}
