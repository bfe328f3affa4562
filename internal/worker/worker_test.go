package worker

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/golisten/internal/config"
	"github.com/roelfdiedericks/golisten/internal/proc"
	"github.com/roelfdiedericks/golisten/internal/stt"
)

type stubProvider struct {
	text  string
	err   error
	calls atomic.Int32
}

func (s *stubProvider) Transcribe(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}
func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Close() error { return nil }

func testConfig(t *testing.T) config.WorkerConfig {
	t.Helper()
	dir := t.TempDir()
	return config.WorkerConfig{
		Socket:  filepath.Join(dir, "w.sock"),
		Timeout: 5 * time.Second,
		PIDFile: filepath.Join(dir, "worker.pid"),
		LogFile: filepath.Join(dir, "worker.log"),
	}
}

// startServer runs a server until the test ends.
func startServer(t *testing.T, cfg config.WorkerConfig, p stt.Provider) *Server {
	t.Helper()
	s := NewServer(p, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := NewClient(cfg).Health(context.Background()); err == nil {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatal("worker did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	p := &stubProvider{text: "  hello   worker \n"}
	startServer(t, cfg, p)

	c := NewClient(cfg)
	text, err := c.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello worker" {
		t.Errorf("text = %q", text)
	}

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "ready" || h.Provider != "stub" || h.Served != 1 || h.PID != os.Getpid() {
		t.Errorf("health = %+v", h)
	}
}

func TestErrorKindsSurviveTheWire(t *testing.T) {
	tests := []struct {
		name string
		err  error
		text string
		want error
	}{
		{"no speech", nil, "[BLANK_AUDIO]", stt.ErrNoSpeech},
		{"model missing", stt.ErrModelNotFound, "", stt.ErrModelNotFound},
		{"binary missing", stt.ErrBinaryNotFound, "", stt.ErrBinaryNotFound},
		{"other failure", errors.New("boom"), "", stt.ErrTranscriptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			startServer(t, cfg, &stubProvider{text: tt.text, err: tt.err})

			_, err := NewClient(cfg).Transcribe(context.Background(), audioFile(t))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if errors.Is(err, ErrUnavailable) {
				t.Error("worker-side failure reported as unavailable")
			}
		})
	}
}

func TestMissingAudioRejected(t *testing.T) {
	cfg := testConfig(t)
	p := &stubProvider{text: "x"}
	startServer(t, cfg, p)

	_, err := NewClient(cfg).Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	if err == nil {
		t.Fatal("expected error for missing audio")
	}
	if p.calls.Load() != 0 {
		t.Error("provider called for missing audio")
	}
}

func TestClientWithoutWorker(t *testing.T) {
	cfg := testConfig(t)
	if _, err := NewClient(cfg).Transcribe(context.Background(), audioFile(t)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestProviderFallsBackLocally(t *testing.T) {
	cfg := testConfig(t)
	local := &stubProvider{text: "local"}
	p := &Provider{
		client:   NewClient(cfg),
		newLocal: func() (stt.Provider, error) { return local, nil },
	}

	text, err := p.Transcribe(context.Background(), audioFile(t))
	if err != nil || text != "local" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}

	remote := &stubProvider{text: "remote"}
	startServer(t, cfg, remote)
	text, err = p.Transcribe(context.Background(), audioFile(t))
	if err != nil || text != "remote" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	if local.calls.Load() != 1 || remote.calls.Load() != 1 {
		t.Errorf("local=%d remote=%d calls, want 1/1", local.calls.Load(), remote.calls.Load())
	}
	if p.Name() != "daemon" {
		t.Errorf("Name = %s", p.Name())
	}
}

func TestProviderDoesNotFallBackOnWorkerError(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, &stubProvider{err: stt.ErrModelNotFound})

	local := &stubProvider{text: "local"}
	p := &Provider{
		client:   NewClient(cfg),
		newLocal: func() (stt.Provider, error) { return local, nil },
	}
	if _, err := p.Transcribe(context.Background(), audioFile(t)); !errors.Is(err, stt.ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
	if local.calls.Load() != 0 {
		t.Error("fell back on a worker-side error")
	}
}

func TestSecondServerRefused(t *testing.T) {
	cfg := testConfig(t)
	startServer(t, cfg, &stubProvider{})

	err := NewServer(&stubProvider{}, cfg).Serve(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStaleSocketReplaced(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Socket, nil, 0600); err != nil {
		t.Fatal(err)
	}
	startServer(t, cfg, &stubProvider{text: "ok"})
}

func TestIdleTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdleTimeout = 100 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- NewServer(&stubProvider{}, cfg).Serve(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server ignored idle timeout")
	}
	if _, err := os.Stat(cfg.Socket); !os.IsNotExist(err) {
		t.Error("socket left behind")
	}
}

func TestResolve(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Provider = "daemon"
	p, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "daemon" {
		t.Errorf("Name = %s, want daemon", p.Name())
	}
}

func TestRunningAndStop(t *testing.T) {
	cfg := testConfig(t)
	if _, ok := Running(cfg); ok {
		t.Fatal("Running with no pid file")
	}
	if err := StopDaemon(cfg, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = proc.Kill(pid); proc.WaitExit(pid, time.Second, 0) })
	if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		t.Fatal(err)
	}

	if got, ok := Running(cfg); !ok || got != pid {
		t.Fatalf("Running = %d, %v; want %d", got, ok, pid)
	}
	if err := StopDaemon(cfg, 2*time.Second); err != nil {
		t.Fatalf("StopDaemon failed: %v", err)
	}
	if proc.Alive(pid) {
		t.Error("worker still alive")
	}
	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Error("pid file left behind")
	}
}
