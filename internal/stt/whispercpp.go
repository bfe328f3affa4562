package stt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// WhisperCppProvider keeps a whisper.cpp model loaded in-process. It is the
// provider the warm worker holds on to between requests.
type WhisperCppProvider struct {
	model    whisper.Model
	language string
	threads  uint
}

// NewWhisperCppProvider loads the model. This is the slow part.
func NewWhisperCppProvider(cfg config.WhisperCppConfig, language string) (*WhisperCppProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: whispercpp model not configured", ErrNotConfigured)
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model)
	}

	L_info("stt: loading whisper.cpp model", "path", cfg.Model)
	model, err := whisper.New(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	L_info("stt: whisper.cpp model loaded", "multilingual", model.IsMultilingual())

	return &WhisperCppProvider{
		model:    model,
		language: language,
		threads:  cfg.Threads,
	}, nil
}

// Transcribe converts an audio file to text using whisper.cpp.
func (w *WhisperCppProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	L_debug("stt: whisper.cpp transcribing", "file", filePath)

	// whisper.cpp wants 16kHz mono float32
	samples, err := ConvertToFloat32(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: convert audio: %w", ErrTranscriptionFailed, err)
	}
	L_debug("stt: audio converted", "samples", len(samples), "duration_sec", float64(len(samples))/float64(targetSampleRate))

	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create whisper context: %w", ErrTranscriptionFailed, err)
	}

	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			L_warn("stt: failed to set language", "language", w.language, "error", err)
		}
	}
	if w.threads > 0 {
		wctx.SetThreads(w.threads)
	}

	// Abort between segments once ctx is done.
	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: whisper process: %w", ErrTranscriptionFailed, err)
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: get segment: %w", ErrTranscriptionFailed, err)
		}
		text.WriteString(segment.Text)
	}

	result := strings.TrimSpace(text.String())
	L_debug("stt: whisper.cpp transcription complete", "length", len(result))
	return result, nil
}

// Name returns the provider name.
func (w *WhisperCppProvider) Name() string {
	return "whispercpp"
}

// Close releases the whisper model.
func (w *WhisperCppProvider) Close() error {
	L_debug("stt: closing whisper.cpp model")
	return w.model.Close()
}
