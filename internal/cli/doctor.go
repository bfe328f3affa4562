package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/roelfdiedericks/golisten/internal/cleanup"
	"github.com/roelfdiedericks/golisten/internal/clipboard"
	"github.com/roelfdiedericks/golisten/internal/config"
	"github.com/roelfdiedericks/golisten/internal/history"
	"github.com/roelfdiedericks/golisten/internal/paths"
	"github.com/roelfdiedericks/golisten/internal/stt"
	"github.com/roelfdiedericks/golisten/internal/worker"
)

// DoctorCmd checks that everything a toggle needs is in place.
type DoctorCmd struct {
	WriteConfig bool `help:"Write the default config to ~/.golisten/golisten.toml if none exists."`
}

type checkLevel int

const (
	checkOK checkLevel = iota
	checkWarn
	checkFail
)

type check struct {
	name   string
	level  checkLevel
	detail string
}

func (c *DoctorCmd) Run(app *App) error {
	if c.WriteConfig {
		if err := writeDefaultConfig(app); err != nil {
			return err
		}
	}

	checks := runChecks(app.Config)
	failed := false
	for _, ch := range checks {
		var mark string
		switch ch.level {
		case checkOK:
			mark = styles.ok.Render("ok  ")
		case checkWarn:
			mark = styles.warn.Render("warn")
		default:
			mark = styles.err.Render("FAIL")
			failed = true
		}
		fmt.Fprintf(app.Out, "%s %-12s %s\n", mark, ch.name, ch.detail)
	}
	if failed {
		return errFailed
	}
	return nil
}

func writeDefaultConfig(app *App) error {
	path, err := paths.DefaultConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(app.Out, "Config exists: %s\n", path)
		return nil
	}
	if err := config.Save(path, config.Default(), 0); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s %s\n\n", styles.ok.Render("Wrote"), path)
	return nil
}

func runChecks(cfg *config.Config) []check {
	var out []check
	add := func(name string, level checkLevel, format string, args ...any) {
		out = append(out, check{name: name, level: level, detail: fmt.Sprintf(format, args...)})
	}

	source := cfg.Source
	if source == "" {
		source = "(defaults)"
	}
	add("config", checkOK, "%s", source)

	if bin, err := exec.LookPath(cfg.Capture.Binary); err != nil {
		add("capture", checkFail, "%s not found (install sox)", cfg.Capture.Binary)
	} else {
		add("capture", checkOK, "%s", bin)
	}

	name := cfg.STT.Provider
	if name == "daemon" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h, err := worker.NewClient(cfg.Worker).Health(ctx)
		cancel()
		if err != nil {
			add("worker", checkWarn, "not running; falling back to %s (start with 'golisten serve -D')", cfg.STT.Fallback)
		} else {
			add("worker", checkOK, "pid %d serving %s", h.PID, h.Provider)
		}
		name = cfg.STT.Fallback
	}
	out = append(out, providerCheck(name, cfg.STT))

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		add("ffmpeg", checkWarn, "not found; only WAV files can be transcribed")
	} else {
		add("ffmpeg", checkOK, "found")
	}

	if helper := clipboard.PasteHelper(); helper == "" {
		add("paste", checkWarn, "no paste helper; text is copied only (install xdotool or wtype)")
	} else {
		add("paste", checkOK, "%s", helper)
	}

	if db, err := history.Open(cfg.History.Path); err != nil {
		add("history", checkFail, "%v", err)
	} else {
		if db.FullText() {
			add("history", checkOK, "%s", cfg.History.Path)
		} else {
			add("history", checkOK, "%s (no FTS5, search uses LIKE)", cfg.History.Path)
		}
		db.Close()
	}

	if _, err := cleanup.LoadAPIKey(cfg.Cleanup); err != nil {
		add("cleanup", checkWarn, "%v", err)
	} else {
		add("cleanup", checkOK, "API key found")
	}
	return out
}

// providerCheck validates a provider without loading a whisper.cpp model.
func providerCheck(name string, cfg config.STTConfig) check {
	label := "stt"
	if name == "whispercpp" {
		if _, err := os.Stat(cfg.WhisperCpp.Model); err != nil {
			return check{label, checkFail, fmt.Sprintf("whispercpp model missing: %s (see 'golisten models')", cfg.WhisperCpp.Model)}
		}
		return check{label, checkOK, "whispercpp " + cfg.WhisperCpp.Model}
	}
	p, err := stt.New(name, cfg)
	if err != nil {
		return check{label, checkFail, err.Error()}
	}
	p.Close()
	return check{label, checkOK, p.Name()}
}
