// Package audio decodes engine output, measures clip durations, and writes
// the merged narration track as a single PCM WAV file.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

// Default output format of the merged track.
const (
	DefaultSampleRate = 44100
	DefaultBitDepth   = 16
	DefaultChannels   = 2
)

// Validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 2
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16 or 24, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// ErrInvalidFormat indicates an output format the encoder cannot produce.
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes the PCM layout of the merged track.
type Format struct {
	SampleRate int `json:"sample_rate" toml:"sample_rate"`
	Channels   int `json:"channels"    toml:"channels"`
	BitDepth   int `json:"bit_depth"   toml:"bit_depth"`
}

// DefaultFormat returns CD-quality stereo.
func DefaultFormat() Format {
	return Format{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// Validate checks the format against what the WAV encoder supports.
func (f Format) Validate() error {
	sampleRateErr := validateSampleRate(f.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(f.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	return validateChannels(f.Channels)
}

// Samples converts a duration to a whole number of sample frames.
func (f Format) Samples(d time.Duration) int {
	return beep.SampleRate(f.SampleRate).N(d)
}

// Duration converts a sample-frame count to a duration.
func (f Format) Duration(samples int) time.Duration {
	return beep.SampleRate(f.SampleRate).D(samples)
}

func (f Format) beep() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(f.SampleRate),
		NumChannels: f.Channels,
		Precision:   f.BitDepth / 8,
	}
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, sampleRate)
	}

	return nil
}

// validateBitDepth accepts the sample widths the wav encoder can write.
func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case 8, 16, 24:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, bitDepth)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, channels)
	}

	return nil
}
