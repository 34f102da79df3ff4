// Package manifest records how a narrated video was produced: the allocation
// policy in force, the display plan, the timeline layout and the warnings.
// Manifests are stored as zstd-compressed JSON.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/timeline"
	"github.com/klauspost/compress/zstd"
)

// Version is bumped when the manifest layout changes.
const Version = 1

// ErrVersion indicates a manifest written by an incompatible layout.
var ErrVersion = errors.New("unsupported manifest version")

// Page is one page's entry.
type Page struct {
	Index     int           `json:"index"`
	Image     string        `json:"image"`
	Narration time.Duration `json:"narration"`
	Display   time.Duration `json:"display"`
}

// Manifest describes one completed job.
type Manifest struct {
	Version   int                `json:"version"`
	JobID     string             `json:"job_id"`
	Filename  string             `json:"filename"`
	CreatedAt time.Time          `json:"created_at"`
	Format    audio.Format       `json:"format"`
	Plan      allocator.Plan     `json:"plan"`
	Pages     []Page             `json:"pages"`
	Segments  []timeline.Segment `json:"segments"`
	Cues      []timeline.Cue     `json:"cues"`
	Skipped   []timeline.Skip    `json:"skipped"`
	Measured  time.Duration      `json:"measured"`
	Casting   map[string]string  `json:"casting,omitempty"`
	Warnings  []job.Warning      `json:"warnings"`
}

// Inputs gathers what a completed run knows about itself.
type Inputs struct {
	Job      job.Job
	Format   audio.Format
	Images   []string
	Timeline *timeline.Timeline
	Plan     allocator.Plan
	Casting  map[string]string
	Now      time.Time
}

// New assembles a manifest. Image paths are reduced to base names.
func New(in Inputs) Manifest {
	narration := in.Timeline.PageDurations(len(in.Images))

	pages := make([]Page, len(in.Images))
	for index, image := range in.Images {
		pages[index] = Page{Index: index, Image: filepath.Base(image), Narration: narration[index]}
		if index < len(in.Plan.Display) {
			pages[index].Display = in.Plan.Display[index]
		}
	}

	return Manifest{
		Version:   Version,
		JobID:     in.Job.ID,
		Filename:  in.Job.Filename,
		CreatedAt: in.Now.UTC(),
		Format:    in.Format,
		Plan:      in.Plan,
		Pages:     pages,
		Segments:  append([]timeline.Segment(nil), in.Timeline.Segments...),
		Cues:      in.Timeline.Cues(),
		Skipped:   append([]timeline.Skip(nil), in.Timeline.Skipped...),
		Measured:  in.Timeline.Measured,
		Casting:   in.Casting,
		Warnings:  append([]job.Warning(nil), in.Job.Warnings...),
	}
}

// Encode marshals and compresses m.
func Encode(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decode decompresses and unmarshals a manifest.
func Decode(compressed []byte) (Manifest, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to decompress manifest: %w", err)
	}

	var m Manifest

	unmarshalErr := json.Unmarshal(data, &m)
	if unmarshalErr != nil {
		return Manifest{}, fmt.Errorf("failed to unmarshal manifest: %w", unmarshalErr)
	}

	if m.Version != Version {
		return Manifest{}, fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}

	return m, nil
}
