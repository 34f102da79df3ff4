package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/dialogue"
	"github.com/book-expert/page-narrator/internal/timeline"
	"golang.org/x/time/rate"
)

// Temperature range derived from emotional stability: a steady line gets a
// low temperature, an unstable one a high temperature.
const (
	minTemperature = 0.5
	maxTemperature = 1.0
	// maxEngineVolume is the loudest gain the engine accepts.
	maxEngineVolume = 1.0
)

var (
	// ErrNothingToSay indicates a line with no speakable characters after normalisation.
	ErrNothingToSay = errors.New("nothing to say after normalisation")
	// ErrNilGenerator indicates a missing speech backend.
	ErrNilGenerator = errors.New("speech generator cannot be nil")
)

// Generator renders one request to WAV bytes. HTTPClient implements it.
type Generator interface {
	GenerateSpeech(ctx context.Context, req Request) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// Settings configures an Engine.
type Settings struct {
	Voices            Voices
	Language          string
	RequestsPerSecond float64
}

// Engine holds the shared backend and request budget. Use Session to get a
// per-job synthesizer with its own voice casting.
type Engine struct {
	generator Generator
	limiter   *rate.Limiter
	voices    Voices
	language  string
	log       *logger.Logger
}

// NewEngine returns an engine. A non-positive rate disables throttling.
func NewEngine(generator Generator, settings Settings, log *logger.Logger) (*Engine, error) {
	if generator == nil {
		return nil, ErrNilGenerator
	}

	limit := rate.Inf
	if settings.RequestsPerSecond > 0 {
		limit = rate.Limit(settings.RequestsPerSecond)
	}

	language := settings.Language
	if language == "" {
		language = defaultLanguage
	}

	return &Engine{
		generator: generator,
		limiter:   rate.NewLimiter(limit, 1),
		voices:    settings.Voices.withDefaults(),
		language:  language,
		log:       log,
	}, nil
}

// HealthCheck checks that the backend answers.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.generator.HealthCheck(ctx)
}

// Session returns a synthesizer for one job.
func (e *Engine) Session() *Session {
	return &Session{engine: e, caster: NewCaster(e.voices)}
}

// NewSession is Session behind the timeline.Synthesizer interface.
func (e *Engine) NewSession() timeline.Synthesizer {
	return e.Session()
}

// Session voices the lines of one job. Speakers keep their voice for the
// whole session.
type Session struct {
	engine *Engine
	caster *Caster
}

var _ timeline.Synthesizer = (*Session)(nil)

// Synthesize voices one line and measures the result.
func (s *Session) Synthesize(ctx context.Context, request timeline.SpeechRequest) (timeline.Speech, error) {
	text := Normalize(request.Text)
	if text == "" {
		return timeline.Speech{}, fmt.Errorf("%s: %w", request.Ref, ErrNothingToSay)
	}

	waitErr := s.engine.limiter.Wait(ctx)
	if waitErr != nil {
		return timeline.Speech{}, fmt.Errorf("failed to wait for speech budget: %w", waitErr)
	}

	payload := Params(request, text)
	payload.Voice = s.caster.Cast(request.Speaker, request.Gender)
	payload.Language = s.engine.language

	data, err := s.engine.generator.GenerateSpeech(ctx, payload)
	if err != nil {
		return timeline.Speech{}, fmt.Errorf("failed to voice %s: %w", request.Ref, err)
	}

	duration, err := audio.Duration(data)
	if err != nil {
		return timeline.Speech{}, fmt.Errorf("failed to measure %s: %w", request.Ref, err)
	}

	s.engine.log.Info("Voiced %s as %s (%s, %v)", request.Ref, payload.Voice, request.Emotion.Type, duration)

	return timeline.Speech{Audio: data, Duration: duration}, nil
}

// Casting returns the speaker-to-voice assignments made so far.
func (s *Session) Casting() map[string]string {
	return s.caster.Assignments()
}

// Params maps a line's emotion and delivery hints to engine parameters.
// Voice and language are left for the caller.
func Params(request timeline.SpeechRequest, text string) Request {
	emotion := request.Emotion

	temperature := defaultTemperature
	if emotion.Stability > 0 {
		temperature = maxTemperature - emotion.Stability*(maxTemperature-minTemperature)
	}

	pitch := request.Voice.Pitch
	if pitch == "" {
		pitch = dialogue.PitchMedium
	}

	return Request{
		Text:        text,
		Temperature: temperature,
		Speed:       request.Voice.Speed,
		Volume:      min(request.Voice.Volume, maxEngineVolume),
		Pitch:       string(pitch),
		Emotion: EmotionParams{
			Type:      string(emotion.Type),
			Intensity: emotion.Intensity,
			Stability: emotion.Stability,
			Style:     emotion.Style,
		},
	}
}
