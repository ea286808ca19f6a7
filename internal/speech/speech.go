// Package speech turns tutor replies into playable MP3 audio.
package speech

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
)

// unspeakable matches everything except ASCII letters, digits, Hangul syllables,
// whitespace, and the punctuation the engine reads naturally. \p{Z} keeps non-ASCII spaces
// such as U+00A0 and U+3000, which \s does not match.
var unspeakable = regexp.MustCompile(`[^a-zA-Z0-9가-힣\s\p{Z}.,!?'"]`)

// Clean strips emoji and other symbols the engine cannot pronounce.
func Clean(text string) string {
	return strings.TrimSpace(unspeakable.ReplaceAllString(text, ""))
}

// Audio is an encoded clip ready for inline playback.
type Audio struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the clip as standard base64.
func (a *Audio) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURI returns the clip as a data: URI usable as an <audio> source.
func (a *Audio) DataURI() string {
	return "data:" + a.MIMEType + ";base64," + a.Base64()
}

// Synthesizer renders already-cleaned text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}
