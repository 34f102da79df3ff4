package analysis

// Prompt asks for the page's dialogue as one JSON object whose shape and
// value ranges match dialogue.PagePayload.
const Prompt = `You are preparing a comic page for dubbing. Extract every spoken line,
caption and sound effect on the page image and return a single JSON object.

Rules:
1. Reading order: list lines top-to-bottom, right-to-left for manga and
   left-to-right otherwise. Number them with "sequence" starting at 1.
2. "time_gap_before_s" is the pause before the line: 0.0 for immediate
   speech, 2.0 to 3.0 for a scene change or dramatic beat.
3. "emotion" follows facial expression, body language and balloon shape.
   A whisper has low intensity, a yell high intensity.
4. "speech" tunes delivery: yell and excitement use speed > 1.0 and
   volume > 1.0, calm and sad use speed < 1.0, whisper uses volume < 1.0.
5. "speaker_gender" is the voice-casting hint for the speaker.
6. Output only the JSON object. No Markdown, no commentary.

Schema (all fields required):
{
  "page_type": "story" | "cover" | "info" | "blank",
  "page_number": 1,
  "dialogs": [
    {
      "sequence": 1,
      "text": "exact text of the balloon or caption",
      "speaker": "Character Name" | "Narrator" | "SFX" | "UNKNOWN",
      "speaker_gender": "male" | "female" | "narrator" | "unknown",
      "time_gap_before_s": 0.5,
      "emotion": {
        "type": "calm" | "angry" | "yell" | "sad" | "excitement" | "narration" | "neutral" | "whisper" | "fear" | "surprise",
        "intensity": 0.8,
        "stability": 0.8,
        "style": 0.3,
        "description": "what in the art shows the emotion"
      },
      "speech": {"speed": 1.0, "volume": 1.0, "pitch": "low" | "medium" | "high"},
      "position": {"vertical": "top" | "middle" | "bottom", "horizontal": "left" | "center" | "right"}
    }
  ]
}

Value ranges:
- time_gap_before_s: 0.0 to 3.0
- emotion.intensity, emotion.stability, emotion.style: 0.1 to 1.0
- speech.speed: 0.8 to 1.3
- speech.volume: 0.8 to 1.2

A page without dialogue returns an empty "dialogs" array.`
