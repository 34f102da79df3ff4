package audio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

var (
	// ErrUnsupportedAudio indicates data that is neither WAV nor MP3.
	ErrUnsupportedAudio = errors.New("unsupported audio container")
	// ErrEmptyAudio indicates a clip with no data.
	ErrEmptyAudio = errors.New("audio clip is empty")
)

// Info describes a decoded clip.
type Info struct {
	Container string
	Format    beep.Format
	Samples   int
	Duration  time.Duration
}

// Probe decodes the clip header and reports its length.
func Probe(data []byte) (Info, error) {
	streamer, format, container, err := decode(data)
	if err != nil {
		return Info{}, err
	}
	defer streamer.Close()

	samples := streamer.Len()

	return Info{
		Container: container,
		Format:    format,
		Samples:   samples,
		Duration:  format.SampleRate.D(samples),
	}, nil
}

// Duration returns the playback length of an in-memory clip.
func Duration(data []byte) (time.Duration, error) {
	info, err := Probe(data)
	if err != nil {
		return 0, err
	}

	return info.Duration, nil
}

// MeasureFile returns the playback length of a clip on disk.
func MeasureFile(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	return Duration(data)
}

// decode picks the decoder from the container magic bytes.
func decode(data []byte) (beep.StreamSeekCloser, beep.Format, string, error) {
	if len(data) == 0 {
		return nil, beep.Format{}, "", ErrEmptyAudio
	}

	switch {
	case isWAV(data):
		streamer, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, beep.Format{}, "", fmt.Errorf("failed to decode wav: %w", err)
		}

		return streamer, format, "wav", nil
	case isMP3(data):
		streamer, format, err := mp3.Decode(seekableClip{Reader: bytes.NewReader(data)})
		if err != nil {
			return nil, beep.Format{}, "", fmt.Errorf("failed to decode mp3: %w", err)
		}

		return streamer, format, "mp3", nil
	default:
		return nil, beep.Format{}, "", ErrUnsupportedAudio
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}

	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// seekableClip lets the mp3 decoder seek, which it needs to report Len.
type seekableClip struct {
	*bytes.Reader
}

func (seekableClip) Close() error {
	return nil
}
