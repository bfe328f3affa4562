package stt

import (
	"github.com/roelfdiedericks/golisten/internal/config"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqProvider creates a provider for Groq's Whisper API.
// Models: whisper-large-v3, whisper-large-v3-turbo, distil-whisper-large-v3-en.
func NewGroqProvider(cfg config.OpenAIConfig, language string) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = groqBaseURL
	}
	return newOpenAICompatible("groq", cfg, language)
}
