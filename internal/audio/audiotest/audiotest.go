// Package audiotest builds synthetic WAV clips for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// Tone returns a WAV clip of a 440 Hz sine lasting d at sampleRate.
func Tone(t *testing.T, sampleRate int, d time.Duration) []byte {
	t.Helper()

	rate := beep.SampleRate(sampleRate)
	total := rate.N(d)
	position := 0

	sine := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if position >= total {
			return 0, false
		}

		written := 0
		for index := range samples {
			if position >= total {
				break
			}

			value := 0.2 * math.Sin(2*math.Pi*440*float64(position)/float64(sampleRate))
			samples[index] = [2]float64{value, value}
			position++
			written++
		}

		return written, true
	})

	path := filepath.Join(t.TempDir(), "tone.wav")

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create tone file: %v", err)
	}

	encodeErr := wav.Encode(file, sine, beep.Format{SampleRate: rate, NumChannels: 1, Precision: 2})
	if encodeErr != nil {
		t.Fatalf("failed to encode tone: %v", encodeErr)
	}

	closeErr := file.Close()
	if closeErr != nil {
		t.Fatalf("failed to close tone file: %v", closeErr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read tone file: %v", err)
	}

	return data
}

// WriteTone writes a Tone clip into dir and returns its path.
func WriteTone(t *testing.T, dir string, name string, sampleRate int, d time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)

	err := os.WriteFile(path, Tone(t, sampleRate, d), 0o600)
	if err != nil {
		t.Fatalf("failed to write tone: %v", err)
	}

	return path
}
