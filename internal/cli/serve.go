package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roelfdiedericks/golisten/internal/stt"
	"github.com/roelfdiedericks/golisten/internal/worker"
)

// ServeCmd runs the warm transcription worker.
type ServeCmd struct {
	Detach   bool   `short:"D" help:"Run in the background."`
	Stop     bool   `help:"Stop the background worker."`
	Status   bool   `help:"Report whether a worker is running."`
	Provider string `help:"Provider to serve (default: stt.fallback, or stt.provider when it is not daemon)."`
}

func (c *ServeCmd) Run(app *App) error {
	cfg := app.Config.Worker

	switch {
	case c.Stop:
		if err := worker.StopDaemon(cfg, 5*time.Second); err != nil {
			if errors.Is(err, worker.ErrNotRunning) {
				fmt.Fprintln(app.Out, "Worker not running")
				return nil
			}
			return err
		}
		fmt.Fprintln(app.Out, styles.ok.Render("Worker stopped"))
		return nil
	case c.Status:
		return c.status(app)
	}

	if c.Detach && !worker.IsDetachedChild() {
		child, _, err := worker.Detach(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s pid %d, log %s\n", styles.ok.Render("Worker started:"), child.Pid, cfg.LogFile)
		return nil
	}

	var release func()
	if worker.IsDetachedChild() {
		var err error
		if _, release, err = worker.Detach(cfg); err != nil {
			return err
		}
		defer release()
	}

	name := c.Provider
	if name == "" {
		name = app.Config.STT.Provider
		if name == "daemon" {
			name = app.Config.STT.Fallback
		}
	}
	provider, err := stt.New(name, app.Config.STT)
	if err != nil {
		return err
	}
	defer provider.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return worker.NewServer(provider, cfg).Serve(ctx)
}

func (c *ServeCmd) status(app *App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := worker.NewClient(app.Config.Worker).Health(ctx)
	if err != nil {
		fmt.Fprintln(app.Out, "Worker not running")
		return errFailed
	}
	fmt.Fprintf(app.Out, "%s pid %d, provider %s, up %s, %d served\n",
		styles.ok.Render("Worker running:"), h.PID, h.Provider,
		(time.Duration(h.Uptime) * time.Second).Round(time.Second).String(), h.Served)
	return nil
}
