package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/golisten/internal/cleanup"
	"github.com/roelfdiedericks/golisten/internal/clipboard"
	"github.com/roelfdiedericks/golisten/internal/history"
	"github.com/roelfdiedericks/golisten/internal/indicator"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/notify"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/state"
)

// TranscribeCmd re-runs transcription on a file, by default the last
// recording.
type TranscribeCmd struct {
	File  string `arg:"" optional:"" type:"path" help:"Audio file (default: the last recording)."`
	Print bool   `short:"p" help:"Print only; leave the clipboard alone."`
	Save  bool   `help:"Save the result to history."`
}

func (c *TranscribeCmd) Run(app *App) error {
	path := c.File
	if path == "" {
		store, err := app.Store()
		if err != nil {
			return err
		}
		path = store.AudioPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(app.Out, styles.err.Render("No audio file found: ")+path)
		app.Notifier().Play(notify.Failed)
		return errFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return deliver(ctx, app, path, delivery{save: c.Save, paste: !c.Print})
}

// HistoryCmd lists or searches past transcriptions.
type HistoryCmd struct {
	Limit  int    `short:"n" default:"10" help:"Number of entries."`
	Search string `short:"s" help:"Full-text search query."`
	Full   bool   `short:"f" help:"Show full text instead of a preview."`
}

func (c *HistoryCmd) Run(app *App) error {
	db, err := history.Open(app.Config.History.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	var entries []history.Entry
	if c.Search != "" {
		entries, err = db.Search(ctx, c.Search, c.Limit)
	} else {
		entries, err = db.Recent(ctx, c.Limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(app.Out, "No transcriptions found")
		return nil
	}

	for _, e := range entries {
		text := e.Text
		if e.Processed != "" {
			text = e.Processed
		}
		if !c.Full {
			text = preview(text, 77)
		}
		dur := ""
		if e.Duration > 0 {
			dur = " " + styles.dim.Render("("+seconds(e.Duration)+")")
		}
		fmt.Fprintf(app.Out, "%s %s%s: %s\n",
			styles.id.Render(fmt.Sprintf("[%d]", e.ID)),
			e.Timestamp.Format("2006-01-02 15:04:05"), dur, text)
	}
	return nil
}

// CleanCmd rewrites text with an AI template. The source is the clipboard
// unless a history entry is named.
type CleanCmd struct {
	Template string `short:"t" default:"clean" help:"Template: clean, email, notes or slack."`
	Last     bool   `help:"Clean the latest transcription instead of the clipboard."`
	ID       int64  `help:"Clean history entry ID instead of the clipboard." placeholder:"ID"`
	List     bool   `help:"List templates and exit."`
	Print    bool   `short:"p" help:"Print only; leave the clipboard alone."`
}

func (c *CleanCmd) Run(app *App) error {
	if c.List {
		for _, t := range cleanup.Templates() {
			fmt.Fprintf(app.Out, "%-8s %s\n", styles.title.Render(t.Name), t.Description)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		text string
		db   *history.Store
		id   int64
	)
	if c.Last || c.ID != 0 {
		var err error
		if db, err = history.Open(app.Config.History.Path); err != nil {
			return err
		}
		defer db.Close()

		var e history.Entry
		if c.ID != 0 {
			e, err = db.Get(ctx, c.ID)
		} else {
			e, err = db.Latest(ctx)
		}
		if err != nil {
			return err
		}
		text, id = e.Text, e.ID
	} else {
		var err error
		if text, err = clipboard.Get(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(app.Out, "Nothing to clean")
		return errFailed
	}

	cleaner, err := cleanup.New(app.Config.Cleanup)
	if err != nil {
		return err
	}
	cleaned, err := cleaner.Process(ctx, c.Template, text)
	if err != nil {
		fmt.Fprintln(app.Out, styles.err.Render("AI processing failed: ")+err.Error())
		app.Notifier().Play(notify.Failed)
		return errFailed
	}

	if db != nil {
		if err := db.UpdateProcessed(ctx, id, cleaned); err != nil {
			L_warn("history update failed", "id", id, "error", err)
		}
	}
	if !c.Print {
		if err := copyOut(app, cleaned); err != nil {
			L_warn("clipboard failed", "error", err)
		}
	}
	fmt.Fprintln(app.Out, cleaned)
	return nil
}

// StatusCmd shows whether a recording is running and the last result.
type StatusCmd struct {
	Watch bool `short:"w" help:"Keep watching and redraw on every state change."`
}

func (c *StatusCmd) Run(app *App) error {
	store, err := app.Store()
	if err != nil {
		return err
	}
	c.print(app, store)
	if !c.Watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("status: watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(store.Dir); err != nil {
		return fmt.Errorf("status: watch %s: %w", store.Dir, err)
	}

	// Coalesce bursts (state.json is written via rename).
	var redraw <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == store.StatePath() {
				redraw = time.After(50 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			L_warn("status: watcher error", "error", err)
		case <-redraw:
			redraw = nil
			fmt.Fprintln(app.Out)
			c.print(app, store)
		}
	}
}

func (c *StatusCmd) print(app *App, store *state.Store) {
	rec, status := store.Load()
	switch {
	case status == state.StatusCorrupt:
		fmt.Fprintln(app.Out, styles.warn.Render("State file unreadable")+" (next press will recover)")
	case rec.State == state.Recording && rec.PID > 0 && proc.Alive(rec.PID):
		line := "Recording in progress"
		if !rec.StartedAt.IsZero() {
			line += " (" + seconds(time.Since(rec.StartedAt).Round(100*time.Millisecond)) + ")"
		}
		fmt.Fprintln(app.Out, styles.ok.Render(line))
	case rec.State == state.Recording:
		fmt.Fprintln(app.Out, styles.warn.Render("Stale recording state")+" (next press will recover)")
	case rec.State == state.Transcribing:
		fmt.Fprintln(app.Out, "Transcribing...")
	default:
		fmt.Fprintln(app.Out, "Idle")
	}

	db, err := history.Open(app.Config.History.Path)
	if err != nil {
		L_debug("status: history unavailable", "error", err)
		return
	}
	defer db.Close()
	latest, err := db.Latest(context.Background())
	if errors.Is(err, history.ErrNotFound) {
		return
	}
	if err != nil {
		L_debug("status: history read failed", "error", err)
		return
	}
	fmt.Fprintf(app.Out, "\nLast transcription (%s):\n  %s\n", latest.Timestamp.Format("15:04:05"), preview(latest.Text, 100))
}

// MeterCmd runs the level meter for the recording in --state-dir until
// its stop marker appears.
type MeterCmd struct{}

func (c *MeterCmd) Run(app *App) error {
	store, err := app.Store()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return indicator.NewMeter(store, os.Stdout).Run(ctx)
}
