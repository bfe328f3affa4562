package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// WhisperCLIProvider runs the whisper.cpp command-line tool once per file.
type WhisperCLIProvider struct {
	binary   string
	model    string
	language string
}

// NewWhisperCLIProvider checks that the binary and model exist.
func NewWhisperCLIProvider(cfg config.WhisperCLIConfig, language string) (*WhisperCLIProvider, error) {
	bin, err := resolveBinary(cfg.Binary, "whisper-cli")
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: whispercli model not configured", ErrNotConfigured)
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model)
	}
	if language == "" {
		language = "en"
	}
	return &WhisperCLIProvider{binary: bin, model: cfg.Model, language: language}, nil
}

// Transcribe runs whisper-cli and returns its plain-text output.
func (w *WhisperCLIProvider) Transcribe(ctx context.Context, filePath string) (string, error) {
	L_debug("stt: whisper-cli transcribing", "file", filePath)

	//nolint:gosec // G204: binary and model come from user config
	cmd := exec.CommandContext(ctx, w.binary,
		"-m", w.model,
		"-f", filePath,
		"-l", w.language,
		"--no-timestamps",
		"-np",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: whisper-cli: %s", ErrTranscriptionFailed, msg)
	}
	return stdout.String(), nil
}

// Name returns the provider name.
func (w *WhisperCLIProvider) Name() string {
	return "whispercli"
}

// Close is a no-op; nothing stays loaded between runs.
func (w *WhisperCLIProvider) Close() error {
	return nil
}

// resolveBinary finds bin as a path or on PATH.
func resolveBinary(bin, fallback string) (string, error) {
	if bin == "" {
		bin = fallback
	}
	if strings.ContainsRune(bin, os.PathSeparator) {
		info, err := os.Stat(bin)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
		}
		return bin, nil
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, bin, err)
	}
	return path, nil
}
