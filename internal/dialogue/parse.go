package dialogue

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// PagePayload is the JSON document the analysis model returns for one page.
type PagePayload struct {
	PageType   string          `json:"page_type"`
	PageNumber int             `json:"page_number"`
	Dialogs    []RecordPayload `json:"dialogs"`
}

// RecordPayload is the wire form of a single dialogue line.
type RecordPayload struct {
	Sequence       int             `json:"sequence"`
	Text           string          `json:"text"`
	Speaker        string          `json:"speaker"`
	SpeakerGender  string          `json:"speaker_gender,omitempty"`
	TimeGapBeforeS float64         `json:"time_gap_before_s"`
	Emotion        EmotionPayload  `json:"emotion"`
	Speech         SpeechPayload   `json:"speech"`
	Position       PositionPayload `json:"position"`
}

// EmotionPayload is the wire form of Emotion.
type EmotionPayload struct {
	Type        string  `json:"type"`
	Intensity   float64 `json:"intensity"`
	Stability   float64 `json:"stability"`
	Style       float64 `json:"style"`
	Description string  `json:"description,omitempty"`
}

// SpeechPayload is the wire form of Voice.
type SpeechPayload struct {
	Speed  float64 `json:"speed"`
	Volume float64 `json:"volume"`
	Pitch  string  `json:"pitch"`
}

// PositionPayload is the wire form of Position.
type PositionPayload struct {
	Vertical   string `json:"vertical"`
	Horizontal string `json:"horizontal"`
}

// ParsePage decodes the analysis JSON for the page at pageIndex and returns
// its validated records in the order the model produced them.
func ParsePage(pageIndex int, data []byte) ([]Record, error) {
	var payload PagePayload

	err := json.Unmarshal(data, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal page %d analysis: %w", pageIndex+1, err)
	}

	records := make([]Record, 0, len(payload.Dialogs))
	for _, item := range payload.Dialogs {
		records = append(records, item.toRecord(pageIndex))
	}

	validationErr := ValidatePage(pageIndex, records)
	if validationErr != nil {
		return nil, validationErr
	}

	return records, nil
}

func (p RecordPayload) toRecord(pageIndex int) Record {
	speaker := strings.TrimSpace(p.Speaker)
	if speaker == "" {
		speaker = SpeakerUnknown
	}

	return Record{
		PageIndex:     pageIndex,
		Sequence:      p.Sequence,
		Text:          strings.TrimSpace(p.Text),
		Speaker:       speaker,
		SpeakerGender: parseGender(p.SpeakerGender, speaker),
		PreGap:        secondsToDuration(p.TimeGapBeforeS),
		Emotion: Emotion{
			Type:        EmotionType(strings.ToLower(strings.TrimSpace(p.Emotion.Type))),
			Intensity:   p.Emotion.Intensity,
			Stability:   p.Emotion.Stability,
			Style:       p.Emotion.Style,
			Description: p.Emotion.Description,
		},
		Voice: Voice{
			Speed:  p.Speech.Speed,
			Volume: p.Speech.Volume,
			Pitch:  Pitch(strings.ToLower(strings.TrimSpace(p.Speech.Pitch))),
		},
		Position: Position{
			Vertical:   p.Position.Vertical,
			Horizontal: p.Position.Horizontal,
		},
	}
}

// parseGender keeps unrecognised values as-is so that validation rejects them.
func parseGender(raw, speaker string) Gender {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value != "" {
		return Gender(value)
	}

	if strings.EqualFold(speaker, SpeakerNarrator) {
		return GenderNarrator
	}

	return GenderUnknown
}

// secondsToDuration rounds to whole milliseconds. Values outside
// [0, MaxPreGap] map to just outside that range before conversion, so huge
// inputs cannot overflow into an accepted gap.
func secondsToDuration(seconds float64) time.Duration {
	switch {
	case math.IsNaN(seconds) || seconds < 0:
		return -time.Millisecond
	case seconds > MaxPreGap.Seconds():
		return MaxPreGap + time.Millisecond
	}

	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}
