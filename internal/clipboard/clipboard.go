// Package clipboard puts transcriptions on the system clipboard and pastes
// them into the focused window.
package clipboard

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// ErrPasteUnavailable means no keystroke helper exists for this platform.
var ErrPasteUnavailable = errors.New("no paste helper available")

const appleScriptPaste = `tell application "System Events" to keystroke "v" using command down`

// Copy writes text to the clipboard.
func Copy(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard: copy: %w", err)
	}
	return nil
}

// Get returns the clipboard contents.
func Get() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard: read: %w", err)
	}
	return text, nil
}

// pasteCommand returns the keystroke helper for goos, or nil.
func pasteCommand(goos string, lookPath func(string) (string, error), wayland bool) []string {
	switch goos {
	case "darwin":
		return []string{"osascript", "-e", appleScriptPaste}
	case "linux", "freebsd", "openbsd", "netbsd":
		if wayland {
			if _, err := lookPath("wtype"); err == nil {
				return []string{"wtype", "-M", "ctrl", "v", "-m", "ctrl"}
			}
		}
		if _, err := lookPath("xdotool"); err == nil {
			return []string{"xdotool", "key", "--clearmodifiers", "ctrl+v"}
		}
	}
	return nil
}

func localPasteCommand() []string {
	return pasteCommand(runtime.GOOS, exec.LookPath, os.Getenv("WAYLAND_DISPLAY") != "")
}

// PasteHelper names the keystroke helper Paste would run, or "".
func PasteHelper() string {
	if argv := localPasteCommand(); argv != nil {
		return argv[0]
	}
	return ""
}

// Paste sends the paste keystroke to the focused window. On macOS this
// needs accessibility permission for the calling terminal or hotkey daemon.
func Paste() error {
	argv := localPasteCommand()
	if argv == nil {
		return ErrPasteUnavailable
	}
	out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("clipboard: paste via %s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CopyAndPaste copies text and pastes it. The text stays on the clipboard
// when pasting fails, so pasted reports whether the keystroke went out.
func CopyAndPaste(text string) (pasted bool, err error) {
	if err := Copy(text); err != nil {
		return false, err
	}
	// Give the clipboard owner a moment before the target app reads it.
	time.Sleep(50 * time.Millisecond)
	if err := Paste(); err != nil {
		L_warn("clipboard: paste failed, text left on clipboard", "error", err)
		return false, nil
	}
	return true, nil
}
