// Package notify gives audible feedback for each stage of a dictation.
package notify

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/gen2brain/beeep"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// Event is a dictation milestone.
type Event int

const (
	Started Event = iota
	Stopped
	Done
	Failed
	Warning // soft failure, e.g. no speech
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Done:
		return "done"
	case Failed:
		return "error"
	case Warning:
		return "warning"
	}
	return "unknown"
}

const systemSounds = "/System/Library/Sounds"

// beep tones used where system sounds are unavailable
var tones = map[Event]struct {
	freq float64
	ms   int
}{
	Started: {880, 80},
	Stopped: {660, 60},
	Done:    {1046, 100},
	Failed:  {220, 250},
	Warning: {440, 150},
}

// Notifier plays sounds and shows desktop notifications.
type Notifier struct {
	cfg config.NotifyConfig

	// replaced in tests
	goos  string
	play  func(path string) error
	beep  func(freq float64, ms int) error
	alert func(title, message string) error
}

// New creates a Notifier.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg:   cfg,
		goos:  runtime.GOOS,
		play:  afplay,
		beep:  beeep.Beep,
		alert: func(title, message string) error { return beeep.Notify(title, message, "") },
	}
}

// SoundName returns the configured sound for e.
func (n *Notifier) SoundName(e Event) string {
	switch e {
	case Started:
		return n.cfg.StartSound
	case Stopped:
		return n.cfg.StopSound
	case Done:
		return n.cfg.DoneSound
	case Failed:
		return n.cfg.ErrorSound
	case Warning:
		return n.cfg.WarningSound
	}
	return ""
}

// Play sounds e without blocking. Nothing happens when Silent is set.
func (n *Notifier) Play(e Event) {
	if n.cfg.Silent {
		return
	}

	if n.goos == "darwin" {
		if name := n.SoundName(e); name != "" {
			path := filepath.Join(systemSounds, name+".aiff")
			if _, err := os.Stat(path); err == nil {
				if err := n.play(path); err != nil {
					L_debug("notify: afplay failed", "sound", name, "error", err)
				}
				return
			}
			L_debug("notify: system sound missing", "path", path)
		}
	}

	tone := tones[e]
	if err := n.beep(tone.freq, tone.ms); err != nil {
		L_debug("notify: beep failed", "event", e, "error", err)
	}
}

// Alert shows a desktop notification. Used for failures a hotkey user
// would otherwise never see.
func (n *Notifier) Alert(title, message string) {
	if n.cfg.Silent {
		return
	}
	if err := n.alert(title, message); err != nil {
		L_debug("notify: notification failed", "error", err)
	}
}

// afplay starts the player and reaps it in the background.
func afplay(path string) error {
	cmd := exec.Command("afplay", path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
