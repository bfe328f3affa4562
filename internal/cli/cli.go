// Package cli wires the golisten commands together.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/golisten/internal/config"
	. "github.com/roelfdiedericks/golisten/internal/logging"
	"github.com/roelfdiedericks/golisten/internal/notify"
	"github.com/roelfdiedericks/golisten/internal/state"
)

// Globals are flags accepted by every command.
type Globals struct {
	Config   string `help:"Config file (default: ./golisten.toml, then ~/.golisten/golisten.toml)." type:"path" placeholder:"FILE"`
	StateDir string `help:"Directory for per-session state files." type:"path" env:"GOLISTEN_STATE_DIR" placeholder:"DIR"`
	Debug    bool   `help:"Debug logging." short:"d"`
	Trace    bool   `help:"Trace logging."`
	Silent   bool   `help:"No sounds or notifications."`
	NoPaste  bool   `help:"Copy to the clipboard but do not paste."`
}

// CLI is the command grammar.
type CLI struct {
	Globals

	Toggle     ToggleCmd     `cmd:"" default:"1" help:"Start or stop recording (default)."`
	Transcribe TranscribeCmd `cmd:"" help:"Transcribe an audio file, or the last recording."`
	History    HistoryCmd    `cmd:"" help:"Show transcription history."`
	Clean      CleanCmd      `cmd:"" help:"Rewrite text with AI cleanup."`
	Status     StatusCmd     `cmd:"" help:"Show recording status and the last transcription."`
	Serve      ServeCmd      `cmd:"" help:"Run the transcription worker."`
	Models     ModelsCmd     `cmd:"" help:"List or download whisper models."`
	Doctor     DoctorCmd     `cmd:"" help:"Check the installation."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
	Meter      MeterCmd      `cmd:"" hidden:"" help:"Level meter shown while recording."`
}

// App is what every command runs against.
type App struct {
	Config  *config.Config
	Version string
	Out     io.Writer
	Err     io.Writer

	notifier *notify.Notifier
}

// Store opens the state store.
func (a *App) Store() (*state.Store, error) {
	return state.NewStore(a.Config.StateDir)
}

// Notifier returns the shared notifier.
func (a *App) Notifier() *notify.Notifier {
	if a.notifier == nil {
		a.notifier = notify.New(a.Config.Notify)
	}
	return a.notifier
}

// exitError carries an exit code without printing anything further.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errFailed = exitError{code: 1}

// Run parses args and runs the selected command. It returns the process
// exit code.
func Run(args []string, version string) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("golisten"),
		kong.Description("Voice dictation: one hotkey to start recording, the same hotkey to stop, transcribe and paste."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	app, err := newApp(&cli.Globals, version)
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.err.Render("Error: ")+err.Error())
		return 1
	}
	defer Close()

	if err := kctx.Run(app); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(os.Stderr, styles.err.Render("Error: ")+err.Error())
		return 1
	}
	return 0
}

func newApp(g *Globals, version string) (*App, error) {
	cfg, err := config.LoadFrom(g.Config)
	if err != nil {
		return nil, err
	}
	cfg.WithDefaults()

	if g.StateDir != "" {
		cfg.SetStateDir(g.StateDir)
	}
	if g.Silent {
		cfg.Notify.Silent = true
	}
	if g.NoPaste {
		cfg.Notify.NoPaste = true
	}

	logOpts := DefaultOptions()
	logOpts.Level = ParseLevel(cfg.Log.Level)
	logOpts.File = cfg.Log.File
	switch {
	case g.Trace:
		logOpts.Level = LevelTrace
	case g.Debug:
		logOpts.Level = LevelDebug
	}
	Init(logOpts)

	L_debug("config loaded", "source", cfg.Source, "stateDir", cfg.StateDir)

	return &App{
		Config:  cfg,
		Version: version,
		Out:     os.Stdout,
		Err:     os.Stderr,
	}, nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Out, "golisten %s\n", app.Version)
	return nil
}
