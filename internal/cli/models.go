package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/roelfdiedericks/golisten/internal/stt"
)

// ModelsCmd manages local whisper models.
type ModelsCmd struct {
	List     ModelsListCmd     `cmd:"" default:"1" help:"List known models (default)."`
	Download ModelsDownloadCmd `cmd:"" help:"Download a model into stt.models_dir."`
}

type ModelsListCmd struct{}

func (c *ModelsListCmd) Run(app *App) error {
	dir := app.Config.STT.ModelsDir
	active := map[string]bool{
		filepath.Base(app.Config.STT.WhisperCLI.Model): true,
		filepath.Base(app.Config.STT.WhisperCpp.Model): true,
	}

	fmt.Fprintf(app.Out, "%s %s\n", styles.title.Render("Models in"), dir)
	for _, m := range stt.ListModels(dir) {
		mark := styles.dim.Render("  -")
		if m.Downloaded {
			mark = styles.ok.Render("  ✓")
		}
		line := fmt.Sprintf("%s %-30s %-24s %8s", mark, m.Name, m.Label, m.Size)
		if active[m.Name] {
			line += styles.id.Render("  (configured)")
		}
		fmt.Fprintln(app.Out, line)
	}
	return nil
}

type ModelsDownloadCmd struct {
	Name string `arg:"" help:"Model file name, e.g. ggml-base.en.bin."`
}

func (c *ModelsDownloadCmd) Run(app *App) error {
	model := stt.GetModel(c.Name)
	if model == nil {
		fmt.Fprintf(app.Out, "%s %s (see 'golisten models')\n", styles.err.Render("Unknown model:"), c.Name)
		return errFailed
	}
	dir := app.Config.STT.ModelsDir
	if stt.IsModelDownloaded(dir, model.Name) {
		fmt.Fprintf(app.Out, "Already downloaded: %s\n", filepath.Join(dir, model.Name))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(app.Out, "Downloading %s (%s)\n", model.Name, model.Size)
	var progress stt.Progress
	if f, ok := app.Out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		last := -1
		progress = func(done, total int64) {
			if total <= 0 {
				return
			}
			pct := int(done * 100 / total)
			if pct != last {
				last = pct
				fmt.Fprintf(app.Out, "\r  %3d%%  %d / %d MB", pct, done>>20, total>>20)
			}
		}
	}

	path, err := stt.DownloadModel(ctx, model, dir, progress)
	if progress != nil {
		fmt.Fprintln(app.Out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s %s\n", styles.ok.Render("Saved"), path)
	return nil
}
