// Package timeline turns ordered dialogue into one continuous narration
// track and keeps exact accounting of where every silence and spoken line
// sits inside it.
package timeline

import (
	"time"

	"github.com/book-expert/page-narrator/internal/dialogue"
)

// Tolerance is the largest accepted difference between the planned total
// and the measured length of the merged track.
const Tolerance = 10 * time.Millisecond

// Kind distinguishes silence from speech.
type Kind string

const (
	KindSilence Kind = "silence"
	KindSpeech  Kind = "speech"
)

// Segment is one silence interval or one rendered line. Silence segments
// carry the Ref of the dialogue whose pre-gap they represent.
type Segment struct {
	Kind      Kind          `json:"kind"`
	Ref       dialogue.Ref  `json:"ref"`
	Offset    time.Duration `json:"offset"`
	Duration  time.Duration `json:"duration"`
	AudioPath string        `json:"-"`
}

// End is the offset just past the segment.
func (s Segment) End() time.Duration {
	return s.Offset + s.Duration
}

// Skip records a dialogue whose speech could not be rendered.
type Skip struct {
	Ref    dialogue.Ref `json:"ref"`
	Reason string       `json:"reason"`
}

// Cue locates one voiced dialogue inside the merged track.
type Cue struct {
	Ref      dialogue.Ref  `json:"ref"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Timeline is the ordered, duration-annotated sequence of segments.
type Timeline struct {
	Segments []Segment
	Total    time.Duration
	Skipped  []Skip

	// AudioPath and Measured describe the merged track once written.
	AudioPath string
	Measured  time.Duration
}

// PageDurations sums segment durations per page for pageCount pages.
// Pages without segments get zero.
func (t *Timeline) PageDurations(pageCount int) []time.Duration {
	durations := make([]time.Duration, pageCount)

	for _, segment := range t.Segments {
		if segment.Ref.PageIndex >= 0 && segment.Ref.PageIndex < pageCount {
			durations[segment.Ref.PageIndex] += segment.Duration
		}
	}

	return durations
}

// SpeechCount returns the number of voiced dialogues.
func (t *Timeline) SpeechCount() int {
	count := 0

	for _, segment := range t.Segments {
		if segment.Kind == KindSpeech {
			count++
		}
	}

	return count
}

// Cue returns where the voiced dialogue ref starts and how long it lasts.
func (t *Timeline) Cue(ref dialogue.Ref) (Cue, bool) {
	for _, segment := range t.Segments {
		if segment.Kind == KindSpeech && segment.Ref == ref {
			return Cue{Ref: ref, Start: segment.Offset, Duration: segment.Duration}, true
		}
	}

	return Cue{}, false
}

// Cues lists every voiced dialogue in track order.
func (t *Timeline) Cues() []Cue {
	cues := make([]Cue, 0, len(t.Segments))

	for _, segment := range t.Segments {
		if segment.Kind == KindSpeech {
			cues = append(cues, Cue{Ref: segment.Ref, Start: segment.Offset, Duration: segment.Duration})
		}
	}

	return cues
}

// layout assigns cumulative offsets and returns the total.
func layout(segments []Segment) time.Duration {
	var offset time.Duration

	for index := range segments {
		segments[index].Offset = offset
		offset += segments[index].Duration
	}

	return offset
}
