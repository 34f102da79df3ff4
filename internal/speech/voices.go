package speech

import (
	"strings"
	"sync"

	"github.com/book-expert/page-narrator/internal/dialogue"
)

// Voice roles. A Voices map binds each role to an engine voice name.
const (
	RoleMale     = "male"
	RoleMale2    = "male2"
	RoleFemale   = "female"
	RoleFemale2  = "female2"
	RoleNarrator = "narrator"
)

// Voices maps roles to engine voice identifiers.
type Voices map[string]string

// DefaultVoices returns the stock English voice set.
func DefaultVoices() Voices {
	return Voices{
		RoleMale:     "en-US-GuyNeural",
		RoleMale2:    "en-US-ChristopherNeural",
		RoleFemale:   "en-US-JennyNeural",
		RoleFemale2:  "en-CA-ClaraNeural",
		RoleNarrator: "en-US-AriaNeural",
	}
}

// withDefaults fills roles missing from v.
func (v Voices) withDefaults() Voices {
	merged := DefaultVoices()

	for role, voice := range v {
		if strings.TrimSpace(voice) != "" {
			merged[strings.ToLower(role)] = voice
		}
	}

	return merged
}

// unknownRotation is the order in which speakers of unknown gender are cast.
var unknownRotation = []string{RoleMale, RoleFemale, RoleMale2, RoleFemale2}

// Caster assigns a voice to each speaker once and keeps it for the rest of
// the job. Male and female speakers alternate between the two voices of
// their gender in order of first appearance.
type Caster struct {
	voices   Voices
	mu       sync.Mutex
	assigned map[string]string
	males    int
	females  int
	unknowns int
}

// NewCaster returns an empty casting for one job.
func NewCaster(voices Voices) *Caster {
	return &Caster{voices: voices.withDefaults(), assigned: make(map[string]string)}
}

// Cast returns the voice for speaker, assigning one on first sight.
func (c *Caster) Cast(speaker string, gender dialogue.Gender) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(speaker))
	if voice, ok := c.assigned[key]; ok {
		return voice
	}

	var role string

	switch {
	case gender == dialogue.GenderNarrator || strings.EqualFold(speaker, dialogue.SpeakerNarrator):
		role = RoleNarrator
	case gender == dialogue.GenderMale:
		role = pick(c.males, RoleMale, RoleMale2)
		c.males++
	case gender == dialogue.GenderFemale:
		role = pick(c.females, RoleFemale, RoleFemale2)
		c.females++
	default:
		role = unknownRotation[c.unknowns%len(unknownRotation)]
		c.unknowns++
	}

	voice := c.voices[role]
	c.assigned[key] = voice

	return voice
}

// Assignments returns a copy of the speaker-to-voice table.
func (c *Caster) Assignments() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.assigned))
	for speaker, voice := range c.assigned {
		out[speaker] = voice
	}

	return out
}

func pick(count int, first, second string) string {
	if count%2 == 0 {
		return first
	}

	return second
}
