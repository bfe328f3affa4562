package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]int{
		"trace":   LevelTrace,
		" DEBUG ": LevelDebug,
		"info":    LevelInfo,
		"error":   LevelError,
		"":        LevelWarn,
		"loud":    LevelWarn,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestHasVerb(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"plain message", false},
		{"took %s", true},
		{"100%% done", false},
		{"%d items", true},
		{"trailing %", false},
	}
	for _, tt := range tests {
		if got := hasVerb(tt.msg); got != tt.want {
			t.Errorf("hasVerb(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golisten.log")
	Init(&Options{Level: LevelDebug, File: path})
	t.Cleanup(func() { Init(nil) })

	L_info("worker ready", "socket", "/tmp/w.sock")
	L_debug("took %s", "3s")
	L_trace("hidden below trace")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{"msg=\"worker ready\"", "socket=/tmp/w.sock", "msg=\"took 3s\""} {
		if !strings.Contains(got, want) {
			t.Errorf("log file missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("trace line written at debug level:\n%s", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Level != LevelWarn || opts.File != "" {
		t.Errorf("DefaultOptions = %+v", opts)
	}
}
