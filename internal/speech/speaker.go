package speech

import (
	"context"
	"log/slog"
)

// Playback is the result of speaking one reply. Audio is nil when nothing was produced;
// Error is set when synthesis failed and should be shown next to the text.
type Playback struct {
	Audio *Audio
	Error string
}

// Speaker cleans text and synthesizes it. Failures are reported in the Playback, never returned.
type Speaker struct {
	synth Synthesizer
}

// NewSpeaker wraps synth. A nil synth yields a Speaker that produces no audio.
func NewSpeaker(synth Synthesizer) *Speaker {
	return &Speaker{synth: synth}
}

// Speak produces playback for text.
func (s *Speaker) Speak(ctx context.Context, text string) Playback {
	if s == nil || s.synth == nil {
		return Playback{}
	}
	clean := Clean(text)
	if clean == "" {
		return Playback{}
	}

	audio, err := s.synth.Synthesize(ctx, clean)
	if err != nil {
		slog.Warn("Audio unavailable for reply", "error", err)
		return Playback{Error: "audio error: " + Describe(err)}
	}
	return Playback{Audio: audio}
}
