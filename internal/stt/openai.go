package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// OpenAIProvider implements STT against an OpenAI-compatible audio API.
// Groq serves the same API under a different base URL.
type OpenAIProvider struct {
	name     string
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIProvider creates a provider for OpenAI's Whisper API.
func NewOpenAIProvider(cfg config.OpenAIConfig, language string) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return newOpenAICompatible("openai", cfg, language)
}

func newOpenAICompatible(name string, cfg config.OpenAIConfig, language string) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNotConfigured, name)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	L_debug("stt: provider initialized", "provider", name, "model", cfg.Model)
	return &OpenAIProvider{
		name:     name,
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: language,
	}, nil
}

// Transcribe uploads the file and returns the transcript.
func (o *OpenAIProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	L_debug("stt: uploading", "provider", o.name, "file", filePath)

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: filePath,
		Language: o.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			L_error("stt: API request failed", "provider", o.name, "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
			return "", fmt.Errorf("%w: %s API error: %s", ErrTranscriptionFailed, o.name, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrTranscriptionFailed, o.name, err)
	}

	L_debug("stt: transcription complete", "provider", o.name, "length", len(resp.Text))
	return resp.Text, nil
}

// Name returns the provider name.
func (o *OpenAIProvider) Name() string {
	return o.name
}

// Close releases any resources (none for HTTP client).
func (o *OpenAIProvider) Close() error {
	return nil
}
