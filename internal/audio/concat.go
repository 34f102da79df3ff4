package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

const resampleQuality = 4

// ErrNegativeLength indicates a part with a negative sample count.
var ErrNegativeLength = errors.New("audio part has negative length")

// Part is one slice of the merged track. A part with an empty Path is
// silence. A clip is cut or padded with silence to exactly Samples frames.
type Part struct {
	Path    string
	Samples int
}

// Result describes the merged track as measured after writing it.
type Result struct {
	Samples  int
	Duration time.Duration
	Bytes    int64
}

// Concat writes parts back to back into a WAV file at outPath.
func Concat(ctx context.Context, outPath string, format Format, parts []Part) (Result, error) {
	formatErr := format.Validate()
	if formatErr != nil {
		return Result{}, formatErr
	}

	streamers, closers, err := openParts(format, parts)

	defer func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}()

	if err != nil {
		return Result{}, err
	}

	track := &cancellable{ctx: ctx, streamer: beep.Seq(streamers...), err: nil}

	writeErr := writeWAV(outPath, track, format)
	if writeErr != nil {
		return Result{}, writeErr
	}

	if track.err != nil {
		_ = os.Remove(outPath)

		return Result{}, fmt.Errorf("merge interrupted: %w", track.err)
	}

	return measure(outPath)
}

func openParts(format Format, parts []Part) ([]beep.Streamer, []beep.StreamSeekCloser, error) {
	target := beep.SampleRate(format.SampleRate)
	streamers := make([]beep.Streamer, 0, len(parts))
	closers := make([]beep.StreamSeekCloser, 0, len(parts))

	for index, part := range parts {
		if part.Samples < 0 {
			return nil, closers, fmt.Errorf("%w: part %d has %d samples", ErrNegativeLength, index, part.Samples)
		}

		if part.Samples == 0 {
			continue
		}

		if part.Path == "" {
			streamers = append(streamers, beep.Silence(part.Samples))

			continue
		}

		data, readErr := os.ReadFile(part.Path)
		if readErr != nil {
			return nil, closers, fmt.Errorf("failed to read part %d: %w", index, readErr)
		}

		clip, clipFormat, _, decodeErr := decode(data)
		if decodeErr != nil {
			return nil, closers, fmt.Errorf("failed to decode part %d (%s): %w", index, part.Path, decodeErr)
		}

		closers = append(closers, clip)

		var source beep.Streamer = clip
		if clipFormat.SampleRate != target {
			source = beep.Resample(resampleQuality, clipFormat.SampleRate, target, clip)
		}

		streamers = append(streamers, beep.Take(part.Samples, beep.Seq(source, beep.Silence(-1))))
	}

	return streamers, closers, nil
}

func writeWAV(outPath string, streamer beep.Streamer, format Format) error {
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}

	encodeErr := wav.Encode(file, streamer, format.beep())
	closeErr := file.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode %s: %w", outPath, encodeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", outPath, closeErr)
	}

	return nil
}

func measure(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read merged track: %w", err)
	}

	info, probeErr := Probe(data)
	if probeErr != nil {
		return Result{}, fmt.Errorf("failed to measure merged track: %w", probeErr)
	}

	return Result{
		Samples:  info.Samples,
		Duration: info.Duration,
		Bytes:    int64(len(data)),
	}, nil
}

// cancellable ends the stream early once ctx is done.
type cancellable struct {
	ctx      context.Context //nolint:containedctx
	streamer beep.Streamer
	err      error
}

func (c *cancellable) Stream(samples [][2]float64) (int, bool) {
	ctxErr := c.ctx.Err()
	if ctxErr != nil {
		c.err = ctxErr

		return 0, false
	}

	return c.streamer.Stream(samples)
}

func (c *cancellable) Err() error {
	if c.err != nil {
		return c.err
	}

	return c.streamer.Err()
}
