// Package stt turns a finished recording into text.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

var (
	ErrBinaryNotFound      = errors.New("transcriber binary not found")
	ErrModelNotFound       = errors.New("transcription model not found")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrNotConfigured       = errors.New("transcriber not configured")

	// ErrNoSpeech is a soft failure: the audio held nothing to transcribe.
	ErrNoSpeech = errors.New("no speech detected")
)

// Provider is the interface for STT implementations.
type Provider interface {
	// Transcribe converts an audio file to text.
	Transcribe(ctx context.Context, filePath string) (string, error)

	// Name returns the provider name (e.g. "whispercli", "openai").
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// New creates the local (in-process or subprocess) provider called name.
// The worker-backed "daemon" provider lives in the worker package.
func New(name string, cfg config.STTConfig) (Provider, error) {
	switch name {
	case "", "whispercli":
		return NewWhisperCLIProvider(cfg.WhisperCLI, cfg.Language)
	case "whispercpp":
		return NewWhisperCppProvider(cfg.WhisperCpp, cfg.Language)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, cfg.Language)
	case "groq":
		return NewGroqProvider(cfg.Groq, cfg.Language)
	case "google":
		return NewGoogleProvider(cfg.Google)
	default:
		return nil, fmt.Errorf("stt: unknown provider: %s", name)
	}
}

// Transcribe runs p and normalises its output. Whitespace is collapsed and
// an empty result becomes ErrNoSpeech.
func Transcribe(ctx context.Context, p Provider, filePath string) (string, error) {
	start := time.Now()
	text, err := p.Transcribe(ctx, filePath)
	if err != nil {
		return "", err
	}
	text = collapse(text)
	L_elapsed(start, "stt: transcribed", "provider", p.Name(), "chars", len(text))
	if text == "" || isBlankMarker(text) {
		return "", ErrNoSpeech
	}
	return text, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isBlankMarker matches the placeholders whisper emits for silence.
func isBlankMarker(s string) bool {
	switch strings.ToUpper(strings.Trim(s, " .")) {
	case "[BLANK_AUDIO]", "(BLANK_AUDIO)", "[SILENCE]", "[NO SPEECH]":
		return true
	}
	return false
}
