package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	"github.com/roelfdiedericks/golisten/internal/history"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/state"
)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SetStateDir(filepath.Join(dir, "state"))
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.STT.ModelsDir = filepath.Join(dir, "models")
	cfg.Cleanup.APIKey = ""
	cfg.Cleanup.KeyFile = filepath.Join(dir, "no-key")
	cfg.Notify.Silent = true
	var out bytes.Buffer
	return &App{Config: cfg, Version: "test", Out: &out, Err: &out}, &out
}

func saveEntries(t *testing.T, app *App, entries ...history.Entry) {
	t.Helper()
	db, err := history.Open(app.Config.History.Path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer db.Close()
	for _, e := range entries {
		if _, err := db.Save(context.Background(), e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer sentence", 8, "a longer..."},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	got := summary("one two  three")
	if !strings.Contains(got, "one two  three") || !strings.Contains(got, "(3 words)") {
		t.Errorf("summary = %q", got)
	}
	if wordCount("  ") != 0 {
		t.Error("blank text should have no words")
	}
	if s := seconds(1500 * time.Millisecond); s != "1.5s" {
		t.Errorf("seconds = %q", s)
	}
}

func TestVersionCmd(t *testing.T) {
	app, out := testApp(t)
	if err := (&VersionCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	if out.String() != "golisten test\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestHistoryCmd(t *testing.T) {
	app, out := testApp(t)

	if err := (&HistoryCmd{Limit: 10}).Run(app); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No transcriptions found") {
		t.Errorf("empty history output = %q", out.String())
	}

	saveEntries(t, app,
		history.Entry{Text: "first note about groceries", Duration: 2 * time.Second},
		history.Entry{Text: "raw second", Processed: "Cleaned second note."},
	)

	out.Reset()
	if err := (&HistoryCmd{Limit: 10}).Run(app); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "first note about groceries") || !strings.Contains(got, "(2.0s)") {
		t.Errorf("missing first entry: %q", got)
	}
	if !strings.Contains(got, "Cleaned second note.") || strings.Contains(got, "raw second") {
		t.Errorf("processed text should replace the raw text: %q", got)
	}
	if strings.Index(got, "Cleaned") > strings.Index(got, "groceries") {
		t.Errorf("newest entry should come first: %q", got)
	}

	out.Reset()
	if err := (&HistoryCmd{Limit: 10, Search: "groceries"}).Run(app); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "groceries") || strings.Contains(got, "second") {
		t.Errorf("search output = %q", got)
	}
}

func TestHistoryPreviewTruncates(t *testing.T) {
	app, out := testApp(t)
	long := strings.Repeat("word ", 40)
	saveEntries(t, app, history.Entry{Text: long})

	if err := (&HistoryCmd{Limit: 1}).Run(app); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "...") {
		t.Errorf("expected truncated preview: %q", out.String())
	}

	out.Reset()
	if err := (&HistoryCmd{Limit: 1, Full: true}).Run(app); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), strings.TrimSpace(long)) {
		t.Errorf("expected full text: %q", out.String())
	}
}

func TestCleanList(t *testing.T) {
	app, out := testApp(t)
	if err := (&CleanCmd{List: true}).Run(app); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"clean", "email", "notes", "slack"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("template %q not listed: %q", name, out.String())
		}
	}
}

func TestCleanWithoutKey(t *testing.T) {
	app, _ := testApp(t)
	saveEntries(t, app, history.Entry{Text: "um so basically"})

	err := (&CleanCmd{Last: true, Template: "clean", Print: true}).Run(app)
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("err = %v, want missing API key", err)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	app, out := testApp(t)
	err := (&TranscribeCmd{File: filepath.Join(t.TempDir(), "none.wav")}).Run(app)
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	if !strings.Contains(out.String(), "No audio file found") {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatusCmd(t *testing.T) {
	app, out := testApp(t)

	if err := (&StatusCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "Idle") {
		t.Errorf("output = %q", out.String())
	}

	store, err := app.Store()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(state.Record{State: state.Recording}); err != nil {
		t.Fatal(err)
	}
	saveEntries(t, app, history.Entry{Text: "the last thing said"})

	out.Reset()
	if err := (&StatusCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Stale recording state") {
		t.Errorf("recording without a live pid should be stale: %q", got)
	}
	if !strings.Contains(got, "Last transcription") || !strings.Contains(got, "the last thing said") {
		t.Errorf("missing last transcription: %q", got)
	}

	if err := os.WriteFile(store.StatePath(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := (&StatusCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "State file unreadable") {
		t.Errorf("corrupt state output = %q", out.String())
	}
}

func TestModelsList(t *testing.T) {
	app, out := testApp(t)
	dir := app.Config.STT.ModelsDir
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ggml-base.en.bin"), []byte("model"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := (&ModelsListCmd{}).Run(app); err != nil {
		t.Fatal(err)
	}
	var base, tiny string
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.Contains(line, "ggml-base.en.bin"):
			base = line
		case strings.Contains(line, "ggml-tiny.en.bin"):
			tiny = line
		}
	}
	if !strings.Contains(base, "✓") {
		t.Errorf("downloaded model not marked: %q", base)
	}
	if tiny == "" || strings.Contains(tiny, "✓") {
		t.Errorf("missing model marked downloaded: %q", tiny)
	}
	if !strings.Contains(out.String(), "(configured)") {
		t.Errorf("configured model not flagged: %q", out.String())
	}
}

func TestModelsDownloadUnknown(t *testing.T) {
	app, out := testApp(t)
	err := (&ModelsDownloadCmd{Name: "ggml-nope.bin"}).Run(app)
	if !errors.Is(err, errFailed) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "Unknown model") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunChecks(t *testing.T) {
	app, _ := testApp(t)
	app.Config.Capture.Binary = "golisten-no-such-recorder"
	app.Config.STT.WhisperCLI.Binary = "golisten-no-such-whisper"

	levels := map[string]checkLevel{}
	for _, ch := range runChecks(app.Config) {
		levels[ch.name] = ch.level
	}
	want := map[string]checkLevel{
		"config":  checkOK,
		"capture": checkFail,
		"stt":     checkFail,
		"history": checkOK,
		"cleanup": checkWarn,
	}
	for name, level := range want {
		got, ok := levels[name]
		if !ok {
			t.Errorf("check %q missing", name)
			continue
		}
		if got != level {
			t.Errorf("check %q = %d, want %d", name, got, level)
		}
	}
}

func TestDoctorWriteConfig(t *testing.T) {
	app, out := testApp(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	_ = (&DoctorCmd{WriteConfig: true}).Run(app)

	path := filepath.Join(home, ".golisten", "golisten.toml")
	cfg := config.Default()
	if err := config.LoadFile(path, cfg); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	_ = (&DoctorCmd{WriteConfig: true}).Run(app)
	if !strings.Contains(out.String(), "Config exists") {
		t.Errorf("second run should leave the config alone: %q", out.String())
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "golisten.toml")
	body := "state_dir = \"" + filepath.Join(dir, "state") + "\"\n[history]\npath = \"" + filepath.Join(dir, "h.db") + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	if code := Run([]string{"--config", cfgPath, "version"}, "1.2.3"); code != 0 {
		t.Errorf("version exit = %d", code)
	}
	if code := Run([]string{"--config", cfgPath, "history", "-n", "3"}, "1.2.3"); code != 0 {
		t.Errorf("history exit = %d", code)
	}
	if code := Run([]string{"--no-such-flag"}, "1.2.3"); code != 2 {
		t.Errorf("bad flag exit = %d, want 2", code)
	}
	if code := Run([]string{"--config", filepath.Join(dir, "missing.toml"), "version"}, "1.2.3"); code != 1 {
		t.Errorf("missing config exit = %d, want 1", code)
	}
}

// fakeRec stands in for sox rec: it creates the output file and exits
// cleanly on SIGINT.
const fakeRec = `#!/bin/sh
for a; do out=$a; done
trap 'exit 0' INT
printf RIFF > "$out"
while :; do sleep 0.05; done
`

func writeExec(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

type toggleEnv struct {
	config   string
	stateDir string
	history  string
}

// newToggleEnv writes a config that records with fakeRec and transcribes
// with the given whisper-cli script.
func newToggleEnv(t *testing.T, recorder, whisper string) toggleEnv {
	t.Helper()
	t.Setenv("GOLISTEN_STATE_DIR", "")
	t.Setenv("GOLISTEN_STT_PROVIDER", "")
	t.Setenv("GOLISTEN_CAPTURE_BINARY", "")
	t.Setenv("GOLISTEN_INDICATOR_DISABLED", "")

	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(model, []byte("model"), 0600); err != nil {
		t.Fatal(err)
	}
	env := toggleEnv{
		config:   filepath.Join(dir, "golisten.toml"),
		stateDir: filepath.Join(dir, "state"),
		history:  filepath.Join(dir, "history.db"),
	}
	body := fmt.Sprintf(`state_dir = %q

[capture]
binary = %q

[indicator]
disabled = true

[stt]
provider = "whispercli"

[stt.whispercli]
binary = %q
model = %q

[history]
path = %q

[notify]
silent = true
no_paste = true
`, env.stateDir, recorder, writeExec(t, dir, "whisper-cli", whisper), model, env.history)
	if err := os.WriteFile(env.config, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return env
}

// startRecording runs the first press and returns the recorder pid.
func startRecording(t *testing.T, env toggleEnv) (*state.Store, int) {
	t.Helper()
	if code := Run([]string{"--config", env.config}, "test"); code != 0 {
		t.Fatalf("first press exit = %d", code)
	}
	store, err := state.NewStore(env.stateDir)
	if err != nil {
		t.Fatal(err)
	}
	rec := store.Read()
	if rec.State != state.Recording || rec.PID == 0 {
		t.Fatalf("state after first press = %+v, want recording", rec)
	}
	pid := rec.PID
	t.Cleanup(func() {
		if proc.Alive(pid) {
			_ = proc.Kill(pid)
			proc.WaitExit(pid, time.Second, 10*time.Millisecond)
		}
	})
	return store, pid
}

func TestToggleRecordsAndDelivers(t *testing.T) {
	recorder := writeExec(t, t.TempDir(), "rec", fakeRec)
	env := newToggleEnv(t, recorder, "#!/bin/sh\necho '  hello from   the fake transcriber '\n")

	store, pid := startRecording(t, env)
	time.Sleep(50 * time.Millisecond)

	if code := Run([]string{"--config", env.config}, "test"); code != 0 {
		t.Fatalf("second press exit = %d", code)
	}
	if proc.Alive(pid) {
		t.Error("recorder still running after the second press")
	}
	if _, status := store.Load(); status != state.StatusMissing {
		t.Errorf("state file after delivery: %s, want none", status)
	}

	db, err := history.Open(env.history)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	e, err := db.Latest(context.Background())
	if err != nil {
		t.Fatalf("no history row: %v", err)
	}
	if e.Text != "hello from the fake transcriber" {
		t.Errorf("Text = %q", e.Text)
	}
	if e.Backend != "whispercli" || e.Metadata["session"] == "" {
		t.Errorf("entry = %+v", e)
	}
	if e.Duration <= 0 {
		t.Errorf("Duration = %s, want > 0", e.Duration)
	}
}

func TestToggleCleansUpAfterFailedTranscription(t *testing.T) {
	recorder := writeExec(t, t.TempDir(), "rec", fakeRec)
	env := newToggleEnv(t, recorder, "#!/bin/sh\necho 'model exploded' >&2\nexit 3\n")

	store, pid := startRecording(t, env)

	if code := Run([]string{"--config", env.config}, "test"); code != 1 {
		t.Errorf("second press exit = %d, want 1", code)
	}
	if proc.Alive(pid) {
		t.Error("recorder still running after the second press")
	}
	if _, status := store.Load(); status != state.StatusMissing {
		t.Errorf("state file after failed transcription: %s, want none", status)
	}

	db, err := history.Open(env.history)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Latest(context.Background()); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("failed transcription saved to history: %v", err)
	}
}

func TestToggleMicUnavailable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-rec")
	env := newToggleEnv(t, missing, "#!/bin/sh\necho unused\n")
	if code := Run([]string{"--config", env.config}, "test"); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}

	app, out := testApp(t)
	app.Config.Capture.Binary = missing
	app.Config.Indicator.Disabled = true
	if err := (&ToggleCmd{}).Run(app); !errors.Is(err, errFailed) {
		t.Fatalf("err = %v, want errFailed", err)
	}
	if !strings.Contains(out.String(), "Microphone unavailable") {
		t.Errorf("output = %q", out.String())
	}
	store, err := app.Store()
	if err != nil {
		t.Fatal(err)
	}
	if _, status := store.Load(); status != state.StatusMissing {
		t.Errorf("state written after failed start: %s", status)
	}
}
