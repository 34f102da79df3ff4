package timeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/dialogue"
	"github.com/dustin/go-humanize"
)

const mergedTrackName = "narration.wav"

var (
	// ErrNoNarratableContent indicates that no dialogue in the job was voiced.
	ErrNoNarratableContent = errors.New("no narratable content")
	// ErrDurationMismatch indicates that the merged track's measured length
	// disagrees with the planned total beyond Tolerance.
	ErrDurationMismatch = errors.New("merged track duration mismatch")
	// ErrNilSynthesizer indicates a missing speech capability.
	ErrNilSynthesizer = errors.New("synthesizer cannot be nil")
	// ErrEmptySpeech indicates an engine response with no playable audio.
	ErrEmptySpeech = errors.New("speech has zero duration")
	// ErrReportedDuration indicates an engine response whose reported length
	// disagrees with the decoded audio beyond Tolerance.
	ErrReportedDuration = errors.New("reported speech duration disagrees with audio")
	// ErrWorkspace indicates a failure reading or writing the job workspace.
	ErrWorkspace = errors.New("workspace i/o failed")
)

// SpeechRequest carries everything the engine needs to voice one line.
type SpeechRequest struct {
	Ref     dialogue.Ref
	Text    string
	Speaker string
	Gender  dialogue.Gender
	Emotion dialogue.Emotion
	Voice   dialogue.Voice
}

// NewSpeechRequest builds a request from a validated record.
func NewSpeechRequest(record dialogue.Record) SpeechRequest {
	return SpeechRequest{
		Ref:     record.Ref(),
		Text:    record.Text,
		Speaker: record.Speaker,
		Gender:  record.SpeakerGender,
		Emotion: record.Emotion,
		Voice:   record.Voice,
	}
}

// Speech is one rendered line.
type Speech struct {
	Audio    []byte
	Duration time.Duration
}

// Synthesizer voices one line or returns an error.
type Synthesizer interface {
	Synthesize(ctx context.Context, request SpeechRequest) (Speech, error)
}

// Page is one page's dialogue in reading order.
type Page struct {
	Index   int
	Records []dialogue.Record
}

// Observer receives per-dialogue progress. Either method may be a no-op.
type Observer interface {
	DialogueDone(done, total int)
	DialogueSkipped(skip Skip)
}

type noopObserver struct{}

func (noopObserver) DialogueDone(int, int) {}
func (noopObserver) DialogueSkipped(Skip) {}

// Assembler builds and merges timelines.
type Assembler struct {
	synthesizer Synthesizer
	format      audio.Format
	log         *logger.Logger
}

// NewAssembler returns an assembler that writes tracks in format.
func NewAssembler(synthesizer Synthesizer, format audio.Format, log *logger.Logger) (*Assembler, error) {
	if synthesizer == nil {
		return nil, ErrNilSynthesizer
	}

	formatErr := format.Validate()
	if formatErr != nil {
		return nil, formatErr
	}

	return &Assembler{synthesizer: synthesizer, format: format, log: log}, nil
}

// Assemble voices every dialogue of pages in order, writes clips and the
// merged track under workDir, and verifies the merged length.
func (a *Assembler) Assemble(ctx context.Context, pages []Page, workDir string, observer Observer) (*Timeline, error) {
	if observer == nil {
		observer = noopObserver{}
	}

	built, err := a.Build(ctx, pages, workDir, observer)
	if err != nil {
		return nil, err
	}

	if built.SpeechCount() == 0 {
		return built, fmt.Errorf("%w: %d dialogue(s) skipped", ErrNoNarratableContent, len(built.Skipped))
	}

	mergeErr := a.Merge(ctx, built, filepath.Join(workDir, mergedTrackName))
	if mergeErr != nil {
		return built, mergeErr
	}

	return built, nil
}

// Build synthesises each line and lays out segments without merging.
func (a *Assembler) Build(ctx context.Context, pages []Page, workDir string, observer Observer) (*Timeline, error) {
	if observer == nil {
		observer = noopObserver{}
	}

	clipDir := filepath.Join(workDir, "speech")

	mkdirErr := os.MkdirAll(clipDir, 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("%w: failed to create speech directory: %w", ErrWorkspace, mkdirErr)
	}

	total := 0
	for _, page := range pages {
		total += len(page.Records)
	}

	built := &Timeline{Segments: []Segment{}, Skipped: []Skip{}}
	done := 0

	for _, page := range pages {
		for _, record := range page.Records {
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return nil, fmt.Errorf("assembly stopped before %s: %w", record.Ref(), ctxErr)
			}

			if record.PreGap > 0 {
				built.Segments = append(built.Segments, Segment{
					Kind:     KindSilence,
					Ref:      record.Ref(),
					Duration: record.PreGap,
				})
			}

			segment, synthErr := a.voice(ctx, record, clipDir)
			if synthErr != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("assembly stopped at %s: %w", record.Ref(), ctx.Err())
				}

				if errors.Is(synthErr, ErrWorkspace) {
					return nil, synthErr
				}

				skip := Skip{Ref: record.Ref(), Reason: synthErr.Error()}
				built.Skipped = append(built.Skipped, skip)
				a.log.Warn("Skipping %s: %v", record.Ref(), synthErr)
				observer.DialogueSkipped(skip)
			} else {
				built.Segments = append(built.Segments, segment)
			}

			done++
			observer.DialogueDone(done, total)
		}
	}

	built.Total = layout(built.Segments)

	return built, nil
}

// Merge concatenates the timeline's segments into outPath and checks the
// measured length against Total.
func (a *Assembler) Merge(ctx context.Context, built *Timeline, outPath string) error {
	parts := make([]audio.Part, 0, len(built.Segments))

	for _, segment := range built.Segments {
		// Sample boundaries come from cumulative offsets so rounding never accumulates.
		samples := a.format.Samples(segment.End()) - a.format.Samples(segment.Offset)
		parts = append(parts, audio.Part{Path: segment.AudioPath, Samples: samples})
	}

	result, err := audio.Concat(ctx, outPath, a.format, parts)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("%w: failed to merge narration track: %w", ErrWorkspace, err)
		}

		return fmt.Errorf("failed to merge narration track: %w", err)
	}

	built.AudioPath = outPath
	built.Measured = result.Duration

	drift := result.Duration - built.Total
	if drift < 0 {
		drift = -drift
	}

	if drift > Tolerance {
		return fmt.Errorf("%w: planned %v, measured %v", ErrDurationMismatch, built.Total, result.Duration)
	}

	a.log.Info("Merged %d segments into %s (%v, %s)",
		len(built.Segments), outPath, result.Duration, humanize.Bytes(uint64(result.Bytes)))

	return nil
}

func (a *Assembler) voice(ctx context.Context, record dialogue.Record, clipDir string) (Segment, error) {
	speech, err := a.synthesizer.Synthesize(ctx, NewSpeechRequest(record))
	if err != nil {
		return Segment{}, err
	}

	info, probeErr := audio.Probe(speech.Audio)
	if probeErr != nil {
		return Segment{}, fmt.Errorf("unreadable speech audio: %w", probeErr)
	}

	// The decoded length is authoritative; Merge cuts or pads clips to it.
	duration := info.Duration
	if duration <= 0 {
		return Segment{}, ErrEmptySpeech
	}

	if speech.Duration > 0 {
		drift := speech.Duration - duration
		if drift < 0 {
			drift = -drift
		}

		if drift > Tolerance {
			return Segment{}, fmt.Errorf("%w: reported %v, decoded %v", ErrReportedDuration, speech.Duration, duration)
		}
	}

	path := filepath.Join(clipDir, fmt.Sprintf("page-%03d-line-%03d.%s",
		record.PageIndex+1, record.Sequence, info.Container))

	writeErr := os.WriteFile(path, speech.Audio, 0o600)
	if writeErr != nil {
		return Segment{}, fmt.Errorf("%w: failed to write speech clip: %w", ErrWorkspace, writeErr)
	}

	return Segment{
		Kind:      KindSpeech,
		Ref:       record.Ref(),
		Duration:  duration,
		AudioPath: path,
	}, nil
}
