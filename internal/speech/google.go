package speech

import (
	"context"
	"fmt"
	"log/slog"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleConfig configures the Google Cloud Text-to-Speech client.
type GoogleConfig struct {
	APIKey       string
	LanguageCode string
	VoiceName    string
	SpeakingRate float64
}

// GoogleTTS synthesizes MP3 audio with Google Cloud Text-to-Speech.
// The language code is fixed for every request regardless of the script of the input.
type GoogleTTS struct {
	client *texttospeech.Client
	cfg    GoogleConfig
}

// NewGoogleTTS creates a client authenticated with the given API key.
func NewGoogleTTS(ctx context.Context, cfg GoogleConfig) (*GoogleTTS, error) {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SpeakingRate <= 0 {
		cfg.SpeakingRate = 1.0
	}

	client, err := texttospeech.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	return &GoogleTTS{client: client, cfg: cfg}, nil
}

// Synthesize implements Synthesizer.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string) (*Audio, error) {
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.cfg.LanguageCode,
			Name:         g.cfg.VoiceName,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  g.cfg.SpeakingRate,
		},
	}

	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		slog.Warn("Speech synthesis failed", "code", status.Code(err).String(), "error", err)
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return &Audio{MIMEType: "audio/mp3", Data: resp.GetAudioContent()}, nil
}

// Close releases the underlying gRPC connection.
func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

// Describe turns a synthesis error into a short message for the learner.
func Describe(err error) string {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return "speech service rejected the credentials"
	case codes.InvalidArgument:
		return "this reply could not be read aloud"
	case codes.Unavailable, codes.DeadlineExceeded:
		return "speech service is unavailable"
	case codes.ResourceExhausted:
		return "speech quota exceeded"
	case codes.Canceled:
		return "speech request was cancelled"
	default:
		return err.Error()
	}
}
