// Package dialogue defines the validated record for one spoken line extracted
// from a document page.
//
// Records are produced by the analysis collaborator, checked once at the
// ingestion boundary, and never mutated afterwards.
package dialogue

import (
	"errors"
	"fmt"
	"time"
)

// Speaker sentinels used when a line has no named character.
const (
	SpeakerNarrator = "Narrator"
	SpeakerUnknown  = "UNKNOWN"
	SpeakerSFX      = "SFX"
)

// Value bounds accepted at the ingestion boundary.
const (
	MaxPreGap = 3 * time.Second

	MinEmotionValue = 0.1
	MaxEmotionValue = 1.0

	MinSpeed  = 0.8
	MaxSpeed  = 1.3
	MinVolume = 0.8
	MaxVolume = 1.2
)

var (
	// ErrMalformedPage indicates that a page's records violate the sequence contract.
	ErrMalformedPage = errors.New("malformed page dialogue")
	// ErrInvalidRecord indicates that a single record failed validation.
	ErrInvalidRecord = errors.New("invalid dialogue record")
)

// EmotionType enumerates the emotional tags a line may carry.
type EmotionType string

const (
	EmotionCalm       EmotionType = "calm"
	EmotionAngry      EmotionType = "angry"
	EmotionYell       EmotionType = "yell"
	EmotionSad        EmotionType = "sad"
	EmotionExcitement EmotionType = "excitement"
	EmotionNarration  EmotionType = "narration"
	EmotionNeutral    EmotionType = "neutral"
	EmotionWhisper    EmotionType = "whisper"
	EmotionFear       EmotionType = "fear"
	EmotionSurprise   EmotionType = "surprise"
)

// Pitch is the coarse pitch class requested from the speech engine.
type Pitch string

const (
	PitchLow    Pitch = "low"
	PitchMedium Pitch = "medium"
	PitchHigh   Pitch = "high"
)

// Gender is the voice-casting hint for a speaker.
type Gender string

const (
	GenderMale     Gender = "male"
	GenderFemale   Gender = "female"
	GenderNarrator Gender = "narrator"
	GenderUnknown  Gender = "unknown"
)

// Emotion holds the emotional tag and its intensity-style parameters.
type Emotion struct {
	Type        EmotionType
	Intensity   float64
	Stability   float64
	Style       float64
	Description string
}

// Voice holds the delivery parameters for the speech engine.
type Voice struct {
	Speed  float64
	Volume float64
	Pitch  Pitch
}

// Position is a layout hint. The pipeline passes it through untouched.
type Position struct {
	Vertical   string
	Horizontal string
}

// Ref identifies a record by page and reading order.
type Ref struct {
	PageIndex int `json:"page_index"`
	Sequence  int `json:"sequence"`
}

// Less reports whether r precedes other in (page, sequence) order.
func (r Ref) Less(other Ref) bool {
	if r.PageIndex != other.PageIndex {
		return r.PageIndex < other.PageIndex
	}

	return r.Sequence < other.Sequence
}

// String formats the reference for logs and warnings.
func (r Ref) String() string {
	return fmt.Sprintf("page %d dialogue %d", r.PageIndex+1, r.Sequence)
}

// Record is one spoken line.
type Record struct {
	PageIndex     int
	Sequence      int
	Text          string
	Speaker       string
	SpeakerGender Gender
	PreGap        time.Duration
	Emotion       Emotion
	Voice         Voice
	Position      Position
}

// Ref returns the record's back-reference.
func (r Record) Ref() Ref {
	return Ref{PageIndex: r.PageIndex, Sequence: r.Sequence}
}

// ValidationError describes the first field of a record that failed validation.
type ValidationError struct {
	Ref    Ref
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %s: %s", e.Ref, e.Field, e.Reason)
}

// Unwrap lets callers match ErrInvalidRecord.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// Validate checks every bounded and enumerated field of the record.
func (r Record) Validate() error {
	invalid := func(field, reason string) error {
		return &ValidationError{Ref: r.Ref(), Field: field, Reason: reason}
	}

	if r.PageIndex < 0 {
		return invalid("page_index", "must be non-negative")
	}

	if r.Sequence < 1 {
		return invalid("sequence", "must start at 1")
	}

	if r.Text == "" {
		return invalid("text", "must not be empty")
	}

	if r.Speaker == "" {
		return invalid("speaker", "must not be empty")
	}

	if !validGender(r.SpeakerGender) {
		return invalid("speaker_gender", fmt.Sprintf("unknown value %q", r.SpeakerGender))
	}

	if r.PreGap < 0 || r.PreGap > MaxPreGap {
		return invalid("time_gap_before_s", fmt.Sprintf("%v outside [0, %v]", r.PreGap, MaxPreGap))
	}

	emotionErr := r.validateEmotion()
	if emotionErr != nil {
		return emotionErr
	}

	return r.validateVoice()
}

func (r Record) validateEmotion() error {
	if !validEmotion(r.Emotion.Type) {
		return &ValidationError{Ref: r.Ref(), Field: "emotion.type", Reason: fmt.Sprintf("unknown value %q", r.Emotion.Type)}
	}

	bounded := []struct {
		field string
		value float64
	}{
		{"emotion.intensity", r.Emotion.Intensity},
		{"emotion.stability", r.Emotion.Stability},
		{"emotion.style", r.Emotion.Style},
	}

	for _, item := range bounded {
		if item.value < MinEmotionValue || item.value > MaxEmotionValue {
			return &ValidationError{
				Ref:    r.Ref(),
				Field:  item.field,
				Reason: fmt.Sprintf("%.2f outside [%.1f, %.1f]", item.value, MinEmotionValue, MaxEmotionValue),
			}
		}
	}

	return nil
}

func (r Record) validateVoice() error {
	if r.Voice.Speed < MinSpeed || r.Voice.Speed > MaxSpeed {
		return &ValidationError{
			Ref:    r.Ref(),
			Field:  "speech.speed",
			Reason: fmt.Sprintf("%.2f outside [%.1f, %.1f]", r.Voice.Speed, MinSpeed, MaxSpeed),
		}
	}

	if r.Voice.Volume < MinVolume || r.Voice.Volume > MaxVolume {
		return &ValidationError{
			Ref:    r.Ref(),
			Field:  "speech.volume",
			Reason: fmt.Sprintf("%.2f outside [%.1f, %.1f]", r.Voice.Volume, MinVolume, MaxVolume),
		}
	}

	switch r.Voice.Pitch {
	case PitchLow, PitchMedium, PitchHigh:
		return nil
	default:
		return &ValidationError{Ref: r.Ref(), Field: "speech.pitch", Reason: fmt.Sprintf("unknown value %q", r.Voice.Pitch)}
	}
}

// ValidatePage checks a page's records: every record is valid, belongs to the
// page, and sequences run 1, 2, 3, ... in slice order. Records are never
// re-sorted or de-duplicated here.
func ValidatePage(pageIndex int, records []Record) error {
	for position, record := range records {
		if record.PageIndex != pageIndex {
			return fmt.Errorf("%w: record %d claims page %d, expected %d",
				ErrMalformedPage, position, record.PageIndex, pageIndex)
		}

		if record.Sequence != position+1 {
			return fmt.Errorf("%w: page %d position %d has sequence %d, expected %d",
				ErrMalformedPage, pageIndex, position, record.Sequence, position+1)
		}

		validationErr := record.Validate()
		if validationErr != nil {
			return fmt.Errorf("%w: %w", ErrMalformedPage, validationErr)
		}
	}

	return nil
}

func validEmotion(emotion EmotionType) bool {
	switch emotion {
	case EmotionCalm, EmotionAngry, EmotionYell, EmotionSad, EmotionExcitement,
		EmotionNarration, EmotionNeutral, EmotionWhisper, EmotionFear, EmotionSurprise:
		return true
	default:
		return false
	}
}

func validGender(gender Gender) bool {
	switch gender {
	case GenderMale, GenderFemale, GenderNarrator, GenderUnknown:
		return true
	default:
		return false
	}
}
