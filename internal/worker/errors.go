package worker

import (
	"errors"

	"github.com/roelfdiedericks/golisten/internal/stt"
)

var (
	// ErrUnavailable means no worker answered on the socket.
	ErrUnavailable = errors.New("transcription worker unavailable")

	// ErrAlreadyRunning is returned by Serve when another worker owns the socket.
	ErrAlreadyRunning = errors.New("transcription worker already running")
)

const (
	kindNoSpeech       = "no_speech"
	kindModelNotFound  = "model_not_found"
	kindBinaryNotFound = "binary_not_found"
	kindNotConfigured  = "not_configured"
	kindFailed         = "failed"
	kindBadRequest     = "bad_request"
)

var kinds = []struct {
	kind string
	err  error
}{
	{kindNoSpeech, stt.ErrNoSpeech},
	{kindModelNotFound, stt.ErrModelNotFound},
	{kindBinaryNotFound, stt.ErrBinaryNotFound},
	{kindNotConfigured, stt.ErrNotConfigured},
	{kindFailed, stt.ErrTranscriptionFailed},
}

// kindOf names err for the wire.
func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return kindFailed
}

// errorOf maps a wire kind back to the sentinel it came from.
func errorOf(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return stt.ErrTranscriptionFailed
}
