package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/roelfdiedericks/golisten/internal/stt"
)

// byPathProvider fails for files named missing-model.wav.
type byPathProvider struct{}

func (byPathProvider) Transcribe(_ context.Context, path string) (string, error) {
	if filepath.Base(path) == "missing-model.wav" {
		return "", stt.ErrModelNotFound
	}
	return "counted", nil
}
func (byPathProvider) Name() string { return "stub" }
func (byPathProvider) Close() error { return nil }

func TestMetrics(t *testing.T) {
	cfg := testConfig(t)
	s := startServer(t, cfg, byPathProvider{})

	c := NewClient(cfg)
	if _, err := c.Transcribe(context.Background(), audioFile(t)); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(t.TempDir(), "missing-model.wav")
	if err := os.WriteFile(bad, []byte("RIFF"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Transcribe(context.Background(), bad); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(s.metrics.transcribed.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.transcribed.WithLabelValues(kindModelNotFound)); got != 1 {
		t.Errorf("model_not_found count = %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.inFlight); got != 0 {
		t.Errorf("in flight = %v", got)
	}

	resp, err := c.http.Get("http://worker/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`golisten_worker_transcriptions_total{provider="stub",result="ok"} 1`,
		"golisten_worker_transcription_duration_seconds_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
