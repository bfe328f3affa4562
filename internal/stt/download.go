package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/golisten/internal/logging"
)

// Progress is called while a download runs. total may be an estimate.
type Progress func(downloaded, total int64)

// DownloadModel downloads model into destDir, writing to a temporary file
// first so an interrupted download never looks complete.
func DownloadModel(ctx context.Context, model *WhisperModel, destDir string, progress Progress) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model is nil")
	}
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return "", fmt.Errorf("create models directory: %w", err)
	}

	destPath := filepath.Join(destDir, model.Name)
	tempPath := destPath + ".download"

	L_info("stt: downloading model", "model", model.Name, "size", model.Size, "url", model.URL)

	req, err := http.NewRequestWithContext(ctx, "GET", model.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = model.SizeBytes
	}

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	counter := &progressWriter{total: total, report: progress, lastLog: time.Now()}
	_, err = io.Copy(io.MultiWriter(tempFile, counter), resp.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("download %s: %w", model.Name, err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename file: %w", err)
	}

	L_info("stt: download complete", "model", model.Name, "path", destPath)
	return destPath, nil
}

type progressWriter struct {
	written int64
	total   int64
	report  Progress
	lastLog time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report != nil {
		p.report(p.written, p.total)
	}
	if time.Since(p.lastLog) > 2*time.Second {
		L_debug("stt: downloading", "downloaded_mb", p.written/(1024*1024), "total_mb", p.total/(1024*1024))
		p.lastLog = time.Now()
	}
	return len(b), nil
}
