package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/golisten/internal/capture"
	"github.com/roelfdiedericks/golisten/internal/clipboard"
	"github.com/roelfdiedericks/golisten/internal/history"
	"github.com/roelfdiedericks/golisten/internal/indicator"
	"github.com/roelfdiedericks/golisten/internal/lifecycle"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/notify"
	"github.com/roelfdiedericks/golisten/internal/stt"
	"github.com/roelfdiedericks/golisten/internal/worker"
)

// ToggleCmd starts a recording, or stops the running one and delivers its
// transcription.
type ToggleCmd struct{}

func (c *ToggleCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Store()
	if err != nil {
		return err
	}
	ind := indicator.New(store, app.Config.Indicator)
	sup := capture.New(store, app.Config.Capture, ind)
	machine := &lifecycle.Machine{Store: store, Capture: sup, Indicator: ind}

	out, err := machine.DecideAndAct(ctx)
	if err != nil {
		msg := lifecycle.UserMessage(err)
		L_warn("toggle failed", "error", err)
		fmt.Fprintln(app.Out, styles.err.Render(msg))
		app.Notifier().Play(notify.Failed)
		if errors.Is(err, lifecycle.ErrMicUnavailable) {
			app.Notifier().Alert("golisten", msg)
		}
		return errFailed
	}

	if out.Action == lifecycle.Start {
		if out.RecoveredStale {
			fmt.Fprintln(app.Out, styles.dim.Render("(cleared an interrupted session)"))
		}
		fmt.Fprintln(app.Out, styles.ok.Render("Recording..."))
		app.Notifier().Play(notify.Started)
		L_info("toggle: recording", "pid", out.Session.PID)
		return nil
	}

	// State returns to Idle however the rest of the pipeline ends.
	defer sup.Cleanup()

	fmt.Fprintf(app.Out, "Transcribing %s...\n", seconds(out.Result.Duration))
	app.Notifier().Play(notify.Stopped)

	return deliver(ctx, app, out.Result.AudioPath, delivery{
		duration: out.Result.Duration,
		save:     true,
		paste:    true,
	})
}

type delivery struct {
	duration time.Duration
	save     bool
	paste    bool
}

// deliver transcribes path and hands the text to the user: history,
// clipboard, sound and a one-line preview.
func deliver(ctx context.Context, app *App, path string, d delivery) error {
	session := uuid.NewString()
	n := app.Notifier()

	provider, err := worker.Resolve(app.Config)
	if err != nil {
		fmt.Fprintln(app.Out, styles.err.Render("Setup error: ")+err.Error())
		n.Play(notify.Failed)
		return errFailed
	}
	defer provider.Close()

	tctx, cancel := context.WithTimeout(ctx, app.Config.Worker.Timeout)
	defer cancel()

	text, err := stt.Transcribe(tctx, provider, path)
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		fmt.Fprintln(app.Out, styles.warn.Render("No speech detected"))
		n.Play(notify.Warning)
		return errFailed
	case errors.Is(err, stt.ErrBinaryNotFound), errors.Is(err, stt.ErrModelNotFound), errors.Is(err, stt.ErrNotConfigured):
		fmt.Fprintln(app.Out, styles.err.Render("Setup error: ")+err.Error())
		n.Play(notify.Failed)
		n.Alert("golisten", err.Error())
		return errFailed
	case err != nil:
		fmt.Fprintln(app.Out, styles.err.Render("Transcription failed: ")+err.Error())
		n.Play(notify.Failed)
		return errFailed
	}
	L_info("transcribed", "session", session, "provider", provider.Name(), "words", wordCount(text))

	if d.save {
		saveHistory(ctx, app, history.Entry{
			Duration:  d.duration,
			Text:      text,
			AudioPath: path,
			Backend:   provider.Name(),
			Metadata: map[string]string{
				"session": session,
				"words":   strconv.Itoa(wordCount(text)),
			},
		})
	}

	if d.paste {
		if err := copyOut(app, text); err != nil {
			L_warn("clipboard failed", "error", err)
			fmt.Fprintln(app.Out, styles.warn.Render("Could not copy to clipboard: ")+err.Error())
		}
	}
	n.Play(notify.Done)
	fmt.Fprintln(app.Out, summary(text))
	return nil
}

// copyOut copies text, and pastes it unless pasting is disabled.
func copyOut(app *App, text string) error {
	if app.Config.Notify.NoPaste {
		return clipboard.Copy(text)
	}
	pasted, err := clipboard.CopyAndPaste(text)
	if err == nil && !pasted {
		fmt.Fprintln(app.Out, styles.dim.Render("(copied to clipboard; paste helper unavailable)"))
	}
	return err
}

// saveHistory records e. A history failure never loses the transcription,
// which is already on its way to the clipboard.
func saveHistory(ctx context.Context, app *App, e history.Entry) {
	db, err := history.Open(app.Config.History.Path)
	if err != nil {
		L_warn("history unavailable", "error", err)
		return
	}
	defer db.Close()
	if id, err := db.Save(ctx, e); err != nil {
		L_warn("history save failed", "error", err)
	} else {
		L_debug("history saved", "id", id)
	}
}
